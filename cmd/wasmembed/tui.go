package main

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-embed/linker"
	"github.com/wippyai/wasm-embed/types"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type pickerState int

const (
	stateSelectFunc pickerState = iota
	stateInputArgs
	stateShowResult
)

type funcEntry struct {
	fn   *linker.Function
	name string
}

// picker lists the exports of one instance and calls the chosen function.
type picker struct {
	ctx      context.Context
	err      error
	session  *session
	output   *bytes.Buffer
	filename string
	result   string
	stdout   string
	funcs    []funcEntry
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    pickerState
}

type callResultMsg struct {
	err    error
	result string
	stdout string
}

func newPicker(ctx context.Context, filename string, s *session, output *bytes.Buffer) *picker {
	p := &picker{ctx: ctx, filename: filename, session: s, output: output}
	for _, name := range s.inst.Names(types.KindFunction) {
		if fn, ok := s.inst.Function(name); ok {
			p.funcs = append(p.funcs, funcEntry{name: name, fn: fn})
		}
	}
	sort.Slice(p.funcs, func(i, j int) bool { return p.funcs[i].name < p.funcs[j].name })
	return p
}

func (p *picker) Init() tea.Cmd {
	return nil
}

func (p *picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return p, tea.Quit

		case "q":
			if p.state != stateInputArgs {
				return p, tea.Quit
			}

		case "up", "k":
			if p.state == stateSelectFunc && p.selected > 0 {
				p.selected--
				return p, nil
			}

		case "down", "j":
			if p.state == stateSelectFunc && p.selected < len(p.funcs)-1 {
				p.selected++
				return p, nil
			}

		case "enter":
			switch p.state {
			case stateSelectFunc:
				if len(p.funcs) == 0 {
					return p, nil
				}
				p.prepareInputs()
				if len(p.inputs) == 0 {
					return p, p.callFunction
				}
				p.state = stateInputArgs
				return p, nil

			case stateInputArgs:
				return p, p.callFunction

			case stateShowResult:
				p.reset()
				return p, nil
			}

		case "tab":
			if p.state == stateInputArgs && len(p.inputs) > 1 {
				p.inputs[p.focusIdx].Blur()
				p.focusIdx = (p.focusIdx + 1) % len(p.inputs)
				p.inputs[p.focusIdx].Focus()
				return p, nil
			}

		case "esc":
			if p.state != stateSelectFunc {
				p.reset()
				return p, nil
			}
		}

	case callResultMsg:
		p.result = msg.result
		p.stdout = msg.stdout
		p.err = msg.err
		p.state = stateShowResult
		return p, nil
	}

	if p.state == stateInputArgs {
		cmds := make([]tea.Cmd, len(p.inputs))
		for i := range p.inputs {
			p.inputs[i], cmds[i] = p.inputs[i].Update(msg)
		}
		return p, tea.Batch(cmds...)
	}
	return p, nil
}

func (p *picker) reset() {
	p.state = stateSelectFunc
	p.inputs = nil
	p.result = ""
	p.stdout = ""
	p.err = nil
}

func (p *picker) prepareInputs() {
	params := p.funcs[p.selected].fn.Type().Params
	p.inputs = make([]textinput.Model, len(params))
	for i, vt := range params {
		ti := textinput.New()
		ti.Placeholder = vt.String()
		ti.Prompt = fmt.Sprintf("arg%d: ", i)
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		p.inputs[i] = ti
	}
	p.focusIdx = 0
}

func (p *picker) callFunction() tea.Msg {
	f := p.funcs[p.selected]
	raw := make([]string, len(p.inputs))
	for i, in := range p.inputs {
		raw[i] = in.Value()
	}
	args, err := parseArgs(f.fn.Type(), raw)
	if err != nil {
		return callResultMsg{err: err}
	}

	results, err := p.session.exec.Call(p.ctx, f.fn, args)
	msg := callResultMsg{err: err, result: formatValues(results)}
	if p.output != nil {
		msg.stdout = p.output.String()
		p.output.Reset()
	}
	return msg
}

func (p *picker) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("wasmembed"))
	b.WriteString(" ")
	b.WriteString(p.filename)
	b.WriteString("\n\n")

	if len(p.funcs) == 0 {
		b.WriteString("The module exports no functions.\n\n")
		b.WriteString(helpStyle.Render("q quit"))
		return b.String()
	}

	switch p.state {
	case stateSelectFunc:
		b.WriteString("Select a function to call:\n\n")
		for i, f := range p.funcs {
			if i == p.selected {
				b.WriteString(selectedStyle.Render("> " + f.name + " " + f.fn.Type().String()))
			} else {
				b.WriteString("  " + formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		f := p.funcs[p.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(f.name)))
		for _, in := range p.inputs {
			b.WriteString(in.View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		f := p.funcs[p.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(f.name)))
		if p.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", p.err)))
		} else if p.result == "" {
			b.WriteString(resultStyle.Render("(no results)"))
		} else {
			b.WriteString(resultStyle.Render(p.result))
		}
		if p.stdout != "" {
			b.WriteString("\n\n--- output ---\n")
			b.WriteString(p.stdout)
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func formatFunc(f funcEntry) string {
	return funcStyle.Render(f.name) + " " + typeStyle.Render(f.fn.Type().String())
}
