package ir

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// Value is the constrained value set used for canonical encoding.
// Only String, Int, Bool, List and Object implement it. Floats are not
// representable; callers encode them as their IEEE-754 bit pattern.
type Value interface {
	canonicalValue()
}

// String is a string Value. It is NFC-normalised when encoded.
type String string

// Int is an integer Value.
type Int int64

// Bool is a boolean Value.
type Bool bool

// List is an ordered list of Values.
type List []Value

// Object maps keys to Values. Keys are emitted in UTF-16 code unit order.
type Object map[string]Value

func (String) canonicalValue() {}
func (Int) canonicalValue()    {}
func (Bool) canonicalValue()   {}
func (List) canonicalValue()   {}
func (Object) canonicalValue() {}

// SortedKeys returns the keys in UTF-16 code unit order. This differs from
// sort.Strings for keys outside the BMP.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	return slices.Compare(ua, ub)
}

// MarshalCanonical encodes v as canonical JSON: sorted keys, NFC strings,
// no HTML escaping, no insignificant whitespace.
func MarshalCanonical(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("null is not representable in canonical JSON")
	case String:
		return writeCanonicalString(buf, string(val))
	case Int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(val)))
	case List:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return fmt.Errorf("%q: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported canonical value %T", v)
	}
	return nil
}

func writeCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
	return nil
}

// DomainSaveState prefixes save-state hashes. The version suffix allows the
// encoding to change without colliding with stored hashes.
const DomainSaveState = "plughost/savestate/v1"

func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalSaveState converts a save state to its canonical Value.
func CanonicalSaveState(s PluginSaveState) Object {
	obj := Object{
		"rdn":      String(s.Key.RDN),
		"format":   String(s.Key.Format),
		"active":   Bool(s.Active),
		"bypassed": Bool(s.Bypassed),
		"raw":      String(base64.StdEncoding.EncodeToString(s.RawState)),
	}
	if s.BackupAudioPorts != nil {
		obj["audio_ports"] = canonicalAudioPorts(s.BackupAudioPorts)
	}
	if s.BackupNotePorts != nil {
		obj["note_ports"] = canonicalNotePorts(s.BackupNotePorts)
	}
	if s.GUISize != nil {
		obj["gui_size"] = List{Int(s.GUISize.Width), Int(s.GUISize.Height)}
	}
	return obj
}

func canonicalAudioPorts(c *AudioPortsConfig) Object {
	ports := func(in []AudioPortInfo) List {
		out := make(List, len(in))
		for i, p := range in {
			o := Object{
				"id":       Int(p.StableID),
				"name":     String(p.Name),
				"channels": Int(p.ChannelCount),
			}
			if p.InPlacePair != nil {
				o["in_place_pair"] = Int(*p.InPlacePair)
			}
			out[i] = o
		}
		return out
	}
	obj := Object{"inputs": ports(c.Inputs), "outputs": ports(c.Outputs)}
	putIndex(obj, "main_in", c.MainInputIndex)
	putIndex(obj, "main_out", c.MainOutputIndex)
	return obj
}

func canonicalNotePorts(c *NotePortsConfig) Object {
	ports := func(in []NotePortInfo) List {
		out := make(List, len(in))
		for i, p := range in {
			out[i] = Object{"id": Int(p.StableID), "name": String(p.Name)}
		}
		return out
	}
	obj := Object{"inputs": ports(c.Inputs), "outputs": ports(c.Outputs)}
	putIndex(obj, "main_in", c.MainInputIndex)
	putIndex(obj, "main_out", c.MainOutputIndex)
	return obj
}

func putIndex(obj Object, key string, idx *int) {
	if idx != nil {
		obj[key] = Int(*idx)
	}
}

// SaveStateHash returns a content hash of s. Two save states hash equal
// exactly when they would persist identically.
func SaveStateHash(s PluginSaveState) (string, error) {
	data, err := MarshalCanonical(CanonicalSaveState(s))
	if err != nil {
		return "", fmt.Errorf("SaveStateHash: %w", err)
	}
	return hashWithDomain(DomainSaveState, data), nil
}
