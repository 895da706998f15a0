package compiler

import (
	"fmt"

	"github.com/roach88/plughost/internal/schedule"
)

// verify simulates two consecutive blocks of tasks and checks that every
// read in the second block observes the producer the compiler intended.
// Two blocks are needed so delayed reads see the previous block's copy.
//
// It also rejects writes to constant buffers and tasks that write a buffer
// they already read or write, which would trip the runtime borrow check.
func verify(tasks []schedule.Task, expects [][]expectation) error {
	if len(tasks) != len(expects) {
		return verifyFailed("%d tasks but %d expectation lists", len(tasks), len(expects))
	}

	for i, t := range tasks {
		seen := make(map[any]bool)
		reads := t.Reads()
		if len(reads) != len(expects[i]) {
			return verifyFailed("task %d (%s) has %d reads but %d expectations", i, t.Describe(), len(reads), len(expects[i]))
		}
		for _, r := range reads {
			seen[r.Key()] = true
		}
		for _, w := range t.Writes() {
			if w.Constant() {
				return verifyFailed("task %d (%s) writes constant buffer %s", i, t.Describe(), w.Name())
			}
			if seen[w.Key()] {
				return verifyFailed("task %d (%s) aliases buffer %s", i, t.Describe(), w.Name())
			}
			seen[w.Key()] = true
		}
	}

	lastWriter := make(map[any]int)
	for pass := 0; pass < 2; pass++ {
		for i, t := range tasks {
			if pass == 1 {
				for j, r := range t.Reads() {
					exp := expects[i][j]
					if exp.constant {
						if !r.Constant() {
							return verifyFailed("task %d (%s) expected a constant buffer, got %s", i, t.Describe(), r.Name())
						}
						continue
					}
					got, ok := lastWriter[r.Key()]
					if !ok || got != exp.writer {
						return verifyFailed("task %d (%s) reads %s written by task %d, want task %d",
							i, t.Describe(), r.Name(), writerOrNone(got, ok), exp.writer)
					}
				}
			}
			for _, w := range t.Writes() {
				lastWriter[w.Key()] = i
			}
		}
	}
	return nil
}

func writerOrNone(i int, ok bool) int {
	if !ok {
		return -1
	}
	return i
}

func verifyFailed(format string, args ...any) error {
	return &CompileError{Code: ErrCodeVerifyFailed, Message: fmt.Sprintf(format, args...)}
}
