package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess    = 0
	ExitQuizFailed = 1 // solve finished but the lineage did not succeed
	ExitError      = 2
)

// QuizFailedError is returned by solve when the run ends failed or timed out
type QuizFailedError struct {
	Message string
}

func (e *QuizFailedError) Error() string {
	return e.Message
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var quizErr *QuizFailedError
		if errors.As(err, &quizErr) {
			os.Exit(ExitQuizFailed)
		}
		os.Exit(ExitError)
	}
}
