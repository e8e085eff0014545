package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// promptMissing fills in addr/username in place when either is empty,
// interactively asking for whatever wasn't supplied on the command line.
// A huh form is used on an
// interactive TTY; a plain bufio.Scanner prompt is used otherwise (huh's
// forms assume a real terminal and misbehave when stdin is a pipe).
func promptMissing(addr, username *string) error {
	if *addr != "" && *username != "" {
		return nil
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		return promptWithForm(addr, username)
	}
	return promptWithScanner(addr, username)
}

func promptWithForm(addr, username *string) error {
	var fields []huh.Field
	if *addr == "" {
		fields = append(fields, huh.NewInput().
			Title("Relay address").
			Placeholder("chat.example.com").
			Value(addr))
	}
	if *username == "" {
		fields = append(fields, huh.NewInput().
			Title("Username").
			Placeholder("alice").
			Value(username))
	}
	if len(fields) == 0 {
		return nil
	}

	form := huh.NewForm(huh.NewGroup(fields...))
	return form.Run()
}

func promptWithScanner(addr, username *string) error {
	reader := bufio.NewScanner(os.Stdin)
	if *addr == "" {
		fmt.Print("Relay address: ")
		if reader.Scan() {
			*addr = reader.Text()
		}
	}
	if *username == "" {
		fmt.Print("Username: ")
		if reader.Scan() {
			*username = reader.Text()
		}
	}
	return reader.Err()
}
