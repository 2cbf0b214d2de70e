package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	formatYAML  = "yaml"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// render writes v in the requested format. Table output is produced by
// table, which receives a tabwriter flushed afterwards.
func render(out io.Writer, format string, v any, table func(w io.Writer)) error {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	case formatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("marshal YAML: %w", err)
		}
		return enc.Close()
	case formatTable:
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		table(w)
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush tabwriter: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// checkFormat rejects an unknown format before any work is done.
func checkFormat(format string) error {
	switch format {
	case formatJSON, formatTable, formatYAML:
		return nil
	default:
		return fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- Views ---

// resultView is a finished foreground command.
type resultView struct {
	Command  string `json:"command"             yaml:"command"`
	ExitCode int    `json:"exit_code"           yaml:"exit_code"`
	Duration string `json:"duration"            yaml:"duration"`
	Stdout   string `json:"stdout,omitempty"    yaml:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"    yaml:"stderr,omitempty"`
}

func (v resultView) table(w io.Writer) {
	fmt.Fprintf(w, "Command:\t%s\n", v.Command)
	fmt.Fprintf(w, "Exit Code:\t%d\n", v.ExitCode)
	fmt.Fprintf(w, "Duration:\t%s\n", v.Duration)
	if v.Stdout != "" {
		fmt.Fprintf(w, "Stdout:\n%s\n", v.Stdout)
	}
	if v.Stderr != "" {
		fmt.Fprintf(w, "Stderr:\n%s\n", v.Stderr)
	}
}

// stepView is a background process that was started, observed and stopped.
type stepView struct {
	ID        string `json:"id"                   yaml:"id"`
	Command   string `json:"command"              yaml:"command"`
	Host      string `json:"host"                 yaml:"host"`
	Matched   string `json:"matched,omitempty"    yaml:"matched,omitempty"`
	Stable    string `json:"stable,omitempty"     yaml:"stable,omitempty"`
	Stopped   bool   `json:"stopped"              yaml:"stopped"`
	OutputEnd string `json:"output_end,omitempty" yaml:"output_end,omitempty"`
}

func (v stepView) table(w io.Writer) {
	fmt.Fprintf(w, "ID:\t%s\n", v.ID)
	fmt.Fprintf(w, "Command:\t%s\n", v.Command)
	fmt.Fprintf(w, "Host:\t%s\n", v.Host)
	if v.Matched != "" {
		fmt.Fprintf(w, "Matched:\t%s\n", v.Matched)
	}
	if v.Stable != "" {
		fmt.Fprintf(w, "Stable Value:\t%s\n", v.Stable)
	}
	fmt.Fprintf(w, "Stopped:\t%t\n", v.Stopped)
	if v.OutputEnd != "" {
		fmt.Fprintf(w, "Output (tail):\n%s\n", v.OutputEnd)
	}
}

// waitView is a converged wait.
type waitView struct {
	Probe   string `json:"probe"   yaml:"probe"`
	Check   string `json:"check"   yaml:"check"`
	Value   any    `json:"value"   yaml:"value"`
	Elapsed string `json:"elapsed" yaml:"elapsed"`
}

func (v waitView) table(w io.Writer) {
	fmt.Fprintln(w, "PROBE\tCHECK\tVALUE\tELAPSED")
	fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", v.Probe, v.Check, v.Value, v.Elapsed)
}

// peerView is one BGP neighbor.
type peerView struct {
	Address   string            `json:"address"             yaml:"address"`
	PeerASN   uint32            `json:"peer_asn"            yaml:"peer_asn"`
	State     string            `json:"state"               yaml:"state"`
	AdminDown bool              `json:"admin_down"          yaml:"admin_down"`
	Received  map[string]uint64 `json:"received,omitempty"  yaml:"received,omitempty"`
}

func peersTable(peers []peerView) func(io.Writer) {
	return func(w io.Writer) {
		fmt.Fprintln(w, "PEER\tASN\tSTATE\tADMIN-DOWN\tRECEIVED")
		for _, p := range peers {
			var total uint64
			for _, n := range p.Received {
				total += n
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%t\t%d\n", p.Address, p.PeerASN, p.State, p.AdminDown, total)
		}
	}
}

// flapView is one completed session flap cycle.
type flapView struct {
	Cycle int    `json:"cycle" yaml:"cycle"`
	Down  string `json:"down"  yaml:"down"`
	Up    string `json:"up"    yaml:"up"`
}

func flapsTable(cycles []flapView) func(io.Writer) {
	return func(w io.Writer) {
		fmt.Fprintln(w, "CYCLE\tDOWN\tUP")
		for _, c := range cycles {
			fmt.Fprintf(w, "%d\t%s\t%s\n", c.Cycle, c.Down, c.Up)
		}
	}
}

// tallyView is the result of an update run.
type tallyView struct {
	Jobs      int            `json:"jobs"       yaml:"jobs"`
	Counts    map[string]int `json:"counts"     yaml:"counts"`
	AllPassed bool           `json:"all_passed" yaml:"all_passed"`
	Elapsed   string         `json:"elapsed"    yaml:"elapsed"`
}

func (v tallyView) table(w io.Writer) {
	fmt.Fprintln(w, "OUTCOME\tCOUNT")
	for _, k := range sortedKeys(v.Counts) {
		fmt.Fprintf(w, "%s\t%d\n", k, v.Counts[k])
	}
	fmt.Fprintf(w, "total\t%d\n", v.Jobs)
}

// countView is an occurrence count in a file.
type countView struct {
	File  string `json:"file"  yaml:"file"`
	Text  string `json:"text"  yaml:"text"`
	Count int    `json:"count" yaml:"count"`
}

func (v countView) table(w io.Writer) {
	fmt.Fprintln(w, "FILE\tTEXT\tCOUNT")
	fmt.Fprintf(w, "%s\t%s\t%d\n", v.File, v.Text, v.Count)
}
