package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

// errNoAnswer is returned when a question has no preset answer and there is no terminal to ask on
var errNoAnswer = errors.New("a decision is needed; pass --on-integrity, --on-conflict or --priority, or run interactively")

// promptDecider answers enable questions from flags first, then by asking on in/out
type promptDecider struct {
	onIntegrity string
	onConflict  string
	priority    []string

	interactive bool
	in          *bufio.Reader
	out         io.Writer
}

func (d *promptDecider) ResolveIntegrity(ctx context.Context, report domain.IntegrityReport) (domain.IntegrityDecision, error) {
	if d.onIntegrity != "" {
		return domain.IntegrityDecision(d.onIntegrity), nil
	}
	if !d.interactive {
		return domain.IntegrityCancel, errNoAnswer
	}

	fmt.Fprintf(d.out, "%s differs from its manifest.\n", report.Package)
	printPaths(d.out, "missing", report.Missing)
	printPaths(d.out, "extra", report.Extra)
	answer, err := d.choose("[c]ancel, [s]ave manifest and enable, [u]ninstall", map[string]string{
		"c": string(domain.IntegrityCancel),
		"s": string(domain.IntegritySaveAndEnable),
		"u": string(domain.IntegrityUninstall),
	})
	return domain.IntegrityDecision(answer), err
}

func (d *promptDecider) ResolveConflict(ctx context.Context, report domain.ConflictReport, strategy domain.Strategy) (domain.ConflictDecision, error) {
	if d.onConflict != "" {
		return domain.ConflictDecision(d.onConflict), nil
	}
	if !d.interactive {
		return domain.ConflictCancel, errNoAnswer
	}

	fmt.Fprintf(d.out, "%s shares paths with: %s\n", report.Candidate, strings.Join(report.ConflictingPackages, ", "))
	for _, name := range report.ConflictingPackages {
		printPaths(d.out, name, report.SharedPaths[name])
	}

	prompt := "[c]ancel, [o]verride"
	choices := map[string]string{"c": string(domain.ConflictCancel), "o": string(domain.ConflictOverride)}
	if strategy == domain.StrategyLink {
		prompt += ", [m]anual priority"
		choices["m"] = string(domain.ConflictManual)
	}
	answer, err := d.choose(prompt, choices)
	return domain.ConflictDecision(answer), err
}

func (d *promptDecider) ArrangePriority(ctx context.Context, candidate string, conflicting []string, suggested domain.PriorityOrder, fromHistory bool) (domain.PriorityOrder, error) {
	if len(d.priority) > 0 {
		return domain.PriorityOrder(d.priority), nil
	}
	if !d.interactive {
		return nil, errNoAnswer
	}

	source := "suggested"
	if fromHistory {
		source = "saved"
	}
	fmt.Fprintf(d.out, "Priority, most favored first (%s): %s\n", source, strings.Join(suggested, ", "))
	fmt.Fprint(d.out, "Enter a comma-separated order, empty to accept, - to back out: ")

	line, err := d.readLine()
	if err != nil {
		return nil, err
	}
	switch line {
	case "":
		return suggested, nil
	case "-":
		return nil, nil
	}

	var order domain.PriorityOrder
	for _, name := range strings.Split(line, ",") {
		if name = strings.TrimSpace(name); name != "" {
			order = append(order, name)
		}
	}
	return order, nil
}

// choose asks until one of the keys is typed and returns its value
func (d *promptDecider) choose(prompt string, choices map[string]string) (string, error) {
	for {
		fmt.Fprintf(d.out, "%s? ", prompt)
		line, err := d.readLine()
		if err != nil {
			return "", err
		}
		if v, ok := choices[strings.ToLower(line)]; ok {
			return v, nil
		}
	}
}

func (d *promptDecider) readLine() (string, error) {
	line, err := d.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func printPaths(w io.Writer, label string, paths []string) {
	const shown = 10
	if len(paths) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s (%d):\n", label, len(paths))
	for i, p := range paths {
		if i == shown {
			fmt.Fprintf(w, "    ... %d more\n", len(paths)-shown)
			break
		}
		fmt.Fprintf(w, "    %s\n", p)
	}
}
