package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/webuildtrades/postcode-lookup/internal/debounce"
)

// MinAutocompleteLength is the shortest input that fetches suggestions.
const MinAutocompleteLength = 2

// Prompt is an interactive postcode search. Typing schedules a debounced
// suggestion fetch; Tab completes from the latest suggestions and Enter runs
// the full search.
type Prompt struct {
	client    *Client
	out       io.Writer
	debouncer *debounce.Debouncer

	mu          sync.Mutex
	latest      string // most recent input
	settled     string // input the suggestions were fetched for
	suggestions []string
}

// NewPrompt creates a Prompt writing results to out.
func NewPrompt(ctx context.Context, c *Client, out io.Writer) *Prompt {
	p := &Prompt{client: c, out: out}
	p.debouncer = debounce.New(ctx, debounce.DefaultQuiet, p.fetchSuggestions)
	return p
}

// OnChange implements readline.Listener.
func (p *Prompt) OnChange(line []rune, pos int, key rune) ([]rune, int, bool) {
	if key == '\r' || key == '\n' {
		return nil, 0, false
	}
	p.Input(string(line))
	return nil, 0, false
}

// Input records the current text and schedules a suggestion fetch.
func (p *Prompt) Input(text string) {
	text = strings.TrimSpace(text)
	p.mu.Lock()
	p.latest = text
	p.mu.Unlock()
	if len([]rune(text)) < MinAutocompleteLength {
		p.debouncer.Cancel()
		p.setSuggestions(text, nil)
		return
	}
	p.debouncer.Trigger(text)
}

// Do implements readline.AutoCompleter with the cached suggestions. Pressing
// Tab before the quiet period ends fetches suggestions for the current text
// straight away.
func (p *Prompt) Do(line []rune, pos int) ([][]rune, int) {
	typed := line[:pos]
	text := strings.TrimSpace(string(typed))
	if len([]rune(text)) >= MinAutocompleteLength {
		p.mu.Lock()
		p.latest = text
		stale := p.settled != text
		p.mu.Unlock()
		if stale {
			p.debouncer.Flush(text)
		}
	}

	var out [][]rune
	for _, s := range p.Suggestions() {
		rs := []rune(s)
		if len(rs) >= len(typed) && strings.EqualFold(string(rs[:len(typed)]), string(typed)) {
			out = append(out, rs[len(typed):])
		}
	}
	return out, pos
}

// Suggestions returns the latest fetched suggestions.
func (p *Prompt) Suggestions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.suggestions...)
}

func (p *Prompt) setSuggestions(partial string, s []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settled = partial
	p.suggestions = s
}

// storeSuggestions keeps s unless newer input has arrived since partial was
// requested.
func (p *Prompt) storeSuggestions(partial string, s []string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if partial != p.latest {
		return false
	}
	p.settled = partial
	p.suggestions = s
	return true
}

func (p *Prompt) fetchSuggestions(ctx context.Context, partial string) {
	suggestions, err := p.client.Autocomplete(ctx, partial)
	if err != nil {
		if !p.storeSuggestions(partial, nil) {
			return
		}
		var lerr *Error
		if errors.As(err, &lerr) && lerr.StatusCode != http.StatusNotFound {
			_, _ = fmt.Fprintf(p.out, "\n%s\n", lerr.UserMessage())
		}
		return
	}
	p.storeSuggestions(partial, suggestions)
}

// Select runs the full search for postcode and prints the results.
func (p *Prompt) Select(ctx context.Context, postcode string) error {
	postcode = strings.TrimSpace(postcode)
	p.debouncer.Cancel()

	resp, err := p.client.Search(ctx, postcode)
	if err != nil {
		var lerr *Error
		if errors.As(err, &lerr) {
			_, _ = fmt.Fprintln(p.out, lerr.UserMessage())
			return nil
		}
		return err
	}
	if len(resp.SearchEnd.Summaries) == 0 {
		_, _ = fmt.Fprintln(p.out, "No addresses found")
		return nil
	}
	for _, s := range resp.SearchEnd.Summaries {
		_, _ = fmt.Fprintf(p.out, "%-12s %s\n", s.Type, s.Address)
	}
	return nil
}

// Run reads postcodes until EOF or interrupt.
func (p *Prompt) Run(ctx context.Context, rl *readline.Instance) error {
	defer p.debouncer.Stop()
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := p.Select(ctx, line); err != nil {
			return err
		}
	}
}
