package inventory

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

const timeLayout = "2006-01-02 15:04:05"

// Row is a Device formatted for display.
type Row struct {
	UniqueID string
	MAC      string
	Firmware string
	Board    string
	Master   string
	Remote   string
	LastView string
}

// Rows formats devices for the table and dashboard views.
func Rows(devices []Device) []Row {
	rows := make([]Row, 0, len(devices))
	for _, d := range devices {
		r := Row{
			UniqueID: d.UniqueID,
			MAC:      d.MAC,
			Firmware: d.Firmware,
			Board:    d.Board,
		}
		if d.Master {
			r.Master = "MASTER"
		}
		if d.Remote {
			r.Remote = "LoRa RC"
		}
		if !d.Updated.IsZero() {
			r.LastView = d.Updated.Local().Format(timeLayout)
		}
		rows = append(rows, r)
	}
	return rows
}

// Write renders devices as "table" (default), "json" or "yaml".
func Write(w io.Writer, devices []Device, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if devices == nil {
			devices = []Device{}
		}
		return enc.Encode(devices)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(devices)
	case "", "table":
		if len(devices) == 0 {
			_, err := fmt.Fprintln(w, "No devices found.")
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "UNIQUE ID\tMAC ADDRESS\tFIRMWARE\tBOARD\tMUSIC MASTER\tREMOTE CONTROL\tLAST VIEW")
		for _, r := range Rows(devices) {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.UniqueID, r.MAC, r.Firmware, r.Board, r.Master, r.Remote, r.LastView)
		}
		return tw.Flush()
	}
	return fmt.Errorf("unknown output format %q", format)
}

var dashboard = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Moving Light Show dashboard</title>
<style>
body { font-family: sans-serif; margin: 2rem; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: .3rem .6rem; }
tr:nth-child(even) { background: #f5f5f5; }
.mono { font-family: monospace; }
.center { text-align: center; }
</style>
</head>
<body>
<h2>Moving Light Show devices ({{.IID}})</h2>
{{if .Rows}}<table>
<tr><th>Unique ID</th><th>MAC address</th><th>Firmware</th><th>Board model</th><th>Music master</th><th>Remote control</th><th>Last view</th></tr>
{{range .Rows}}<tr><td class="mono">{{.UniqueID}}</td><td class="mono">{{.MAC}}</td><td>{{.Firmware}}</td><td>{{.Board}}</td><td class="center"><strong>{{.Master}}</strong></td><td class="center"><strong>{{.Remote}}</strong></td><td>{{.LastView}}</td></tr>
{{end}}</table>{{end}}
</body>
</html>
`))

// RenderHTML writes the dashboard page of one installation.
func RenderHTML(w io.Writer, iid string, devices []Device) error {
	return dashboard.Execute(w, struct {
		IID  string
		Rows []Row
	}{iid, Rows(devices)})
}
