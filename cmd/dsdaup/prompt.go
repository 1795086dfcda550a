package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"dsda-uploader/internal/demo"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

var errNotInteractive = errors.New("stdin is not a terminal")

func isInteractive() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// readSecret reads a line from the terminal without echoing it.
func readSecret(prompt string) (string, error) {
	if !isInteractive() {
		return "", errNotInteractive
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading from terminal: %w", err)
	}
	return string(b), nil
}

func readPassphrase() (string, error) {
	return readSecret("Credentials passphrase: ")
}

// readNewPassphrase asks twice and requires both entries to match.
func readNewPassphrase() (string, error) {
	first, err := readSecret("New passphrase: ")
	if err != nil {
		return "", err
	}
	if first == "" {
		return "", errors.New("passphrase must not be empty")
	}
	second, err := readSecret("Repeat passphrase: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("passphrases do not match")
	}
	return first, nil
}

// terminalPrompter asks the user what to do with an asset no lookup knows.
type terminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newTerminalPrompter(in io.Reader, out io.Writer) *terminalPrompter {
	return &terminalPrompter{in: bufio.NewReader(in), out: out}
}

func (p *terminalPrompter) DecideAsset(ctx context.Context, a demo.Asset) (*demo.AssetDecision, error) {
	fmt.Fprintf(p.out, "\nAsset %s (%s) was not found in the cache, the registry or the public index.\n", a.Name, shortChecksum(a.Checksum))
	fmt.Fprintln(p.out, "  [u] upload it as a new asset")
	fmt.Fprintln(p.out, "  [c] it is commercial, never upload")
	fmt.Fprintln(p.out, "  [p] supply a different file")
	fmt.Fprintln(p.out, "  [s] skip for now")

	for {
		answer, err := p.ask(ctx, "Choice: ")
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(answer) {
		case "u":
			return &demo.AssetDecision{Kind: demo.DecisionNewUpload}, nil
		case "c":
			return &demo.AssetDecision{Kind: demo.DecisionCommercial}, nil
		case "p":
			path, err := p.ask(ctx, "Path: ")
			if err != nil {
				return nil, err
			}
			if path == "" {
				continue
			}
			return &demo.AssetDecision{Kind: demo.DecisionSupplyPath, Path: path}, nil
		case "s", "":
			return nil, nil
		default:
			fmt.Fprintf(p.out, "unknown choice %q\n", answer)
		}
	}
}

func (p *terminalPrompter) ask(ctx context.Context, prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- result{strings.TrimSpace(line), err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil && !(errors.Is(r.err, io.EOF) && r.line != "") {
			return "", r.err
		}
		return r.line, nil
	}
}

func shortChecksum(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
