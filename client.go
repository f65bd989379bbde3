package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"
)

func ipcCall(sock string, req IPCRequest) (IPCResponse, error) {
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to daemon: %w (is `mlsctl daemon` running?)", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

// runIPC performs one request and prints the resulting status. A daemon
// side error is printed with the status and returned.
func runIPC(w io.Writer, sock string, req IPCRequest, format string) error {
	resp, err := ipcCall(sock, req)
	if err != nil {
		return err
	}
	if err := printStatus(w, resp, format); err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	return nil
}

func printStatus(w io.Writer, resp IPCResponse, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(resp)
	case "", "table":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if s := resp.Session; s != nil {
		fmt.Fprintf(tw, "State:\t%s\n", s.State)
		if s.DeviceName != "" {
			fmt.Fprintf(tw, "Device:\t%s (%s)\n", s.DeviceName, s.DeviceAddress)
		}
		fmt.Fprintf(tw, "Commands sent:\t%d\n", s.CommandsSent)
		if s.LastCommand != "" && s.LastCommandAt != nil {
			fmt.Fprintf(tw, "Last command:\t%s at %s\n", s.LastCommand, s.LastCommandAt.Format(time.TimeOnly))
		}
		fmt.Fprintf(tw, "Frames received:\t%d\n", s.FramesReceived)
	}
	if v := resp.View; v != nil {
		fmt.Fprintf(tw, "Status:\t%s\t%s\n", v.Left, v.Right)
		fresh := "stale"
		if v.Fresh {
			fresh = "fresh"
		}
		fmt.Fprintf(tw, "Liveness:\t%s\n", fresh)
		if v.MaxAttempts > 0 {
			fmt.Fprintf(tw, "Reconnect:\t%d/%d\n", v.Attempt, v.MaxAttempts)
		}
		if v.LastError != "" {
			fmt.Fprintf(tw, "Last error:\t%s\n", v.LastError)
		}
	}
	return tw.Flush()
}
