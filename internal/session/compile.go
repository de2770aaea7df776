package session

import (
	"errors"

	"github.com/rapidsai/ptxcompiler/internal/nvptx"
)

// Result is the output of a successful compilation.
type Result struct {
	Program []byte
	InfoLog string
}

// Compile runs one session to completion: create, compile, read the program
// and info log, destroy. The handle is destroyed on every path, after all
// diagnostics have been read. A destroy failure is joined into the returned
// error rather than hiding a compile error.
func Compile(lib nvptx.Library, ptx string, options []string, opts ...Option) (*Result, error) {
	var res *Result
	err := With(lib, ptx, func(s *Session) error {
		if err := s.Compile(options); err != nil {
			return err
		}
		prog, err := s.CompiledProgram()
		if err != nil {
			return err
		}
		info, err := s.InfoLog()
		if err != nil {
			return err
		}
		res = &Result{Program: prog, InfoLog: info}
		return nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// With creates a session, hands it to fn, and destroys it when fn returns or
// panics.
func With(lib nvptx.Library, ptx string, fn func(*Session) error, opts ...Option) (err error) {
	s, err := New(lib, ptx, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()
	return fn(s)
}
