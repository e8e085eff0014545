package chatclient

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"blitter.com/go/parcel/internal/wire"
)

// usernameMaxLength bounds a display username.
const usernameMaxLength = 32

// blockLen is the fixed-width basename slot at the front of a :file payload.
const blockLen = 16

// fileMaxSize is the largest file parcel will transfer in one record: the
// wire format's DataLenMax, less the basename block.
const fileMaxSize = wire.DataLenMax - blockLen

type commandKind int

const (
	cmdSendText commandKind = iota
	cmdSendFile
	cmdNone
	cmdExit
)

// dispatchLine parses one typed line: a leading ':' selects a command,
// anything else is a plain chat line that gets the sender's username
// prepended.
func (s *Session) dispatchLine(line string) (commandKind, []byte, error) {
	if !strings.HasPrefix(line, ":") {
		return cmdSendText, []byte(s.username+": "+line), nil
	}

	switch line {
	case ":q":
		return cmdExit, nil, nil
	case ":username":
		return s.cmdUsername()
	case ":fingerprint":
		return s.cmdFingerprint()
	case ":file":
		return s.cmdSendFile()
	default:
		return cmdNone, nil, fmt.Errorf("%w: unrecognized command %q", ErrUserError, line)
	}
}

// cmdUsername prompts for a replacement username, validates its length, and
// builds the broadcast announcement of the change.
func (s *Session) cmdUsername() (commandKind, []byte, error) {
	for {
		fmt.Fprint(s.out, "> New username: ")
		if !s.in.Scan() {
			return cmdNone, nil, fmt.Errorf("%w: no username entered", ErrUserError)
		}
		newUsername := s.in.Text()
		if newUsername == "" {
			continue
		}
		if len(newUsername) > usernameMaxLength {
			fmt.Fprintf(s.out, "> Maximum username length is %d characters\n", usernameMaxLength)
			continue
		}

		msg := fmt.Sprintf("\033[33m%s has changed their username to %s\033[0m", s.username, newUsername)
		s.username = newUsername
		return cmdSendText, []byte(msg), nil
	}
}

// cmdFingerprint prints the local fingerprint; nothing is sent to the relay.
func (s *Session) cmdFingerprint() (commandKind, []byte, error) {
	fmt.Fprintf(s.out, "Fingerprint is: %s\n", s.fingerprint)
	return cmdNone, nil, nil
}

// cmdSendFile reads a file from disk and builds a payload of
// basename[blockLen] || contents, silently truncating (never rejecting) an
// overlong basename.
func (s *Session) cmdSendFile() (commandKind, []byte, error) {
	fmt.Fprint(s.out, "> File Path: ")
	if !s.in.Scan() {
		return cmdNone, nil, fmt.Errorf("%w: no file path entered", ErrUserError)
	}
	path := s.in.Text()
	if path == "" {
		return cmdNone, nil, fmt.Errorf("%w: no file path entered", ErrUserError)
	}

	info, err := os.Stat(path)
	if err != nil {
		return cmdNone, nil, fmt.Errorf("%w: file %q not found", ErrUserError, path)
	}
	size := info.Size()
	if size > fileMaxSize {
		return cmdNone, nil, fmt.Errorf("%w: file %q is %d bytes over the maximum supported size of %d bytes",
			ErrUserError, path, size-fileMaxSize, fileMaxSize)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return cmdNone, nil, fmt.Errorf("%w: could not read file %q: %v", ErrUserError, path, err)
	}

	payload := make([]byte, blockLen+len(contents))
	copy(payload[:blockLen], filepath.Base(path))
	copy(payload[blockLen:], contents)
	return cmdSendFile, payload, nil
}
