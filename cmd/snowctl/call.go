package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/Niputi/snowtransfer/internal/endpoints"
	"github.com/Niputi/snowtransfer/internal/rest"
)

type CallCmd struct {
	Name   string   `arg:"" help:"Endpoint name, see 'snowctl endpoints'."`
	Param  []string `short:"p" sep:"none" help:"Path parameter as key=value. Repeatable."`
	Data   string   `short:"d" help:"JSON body."`
	File   string   `short:"f" type:"existingfile" help:"Attachment for multipart endpoints."`
	Reason string   `help:"Audit log reason."`
}

func (c *CallCmd) Run(cli *CLI) error {
	ep, ok := endpoints.Lookup(c.Name)
	if !ok {
		return fmt.Errorf("unknown endpoint %q", c.Name)
	}
	params, err := parseParams(c.Param)
	if err != nil {
		return err
	}
	body, err := c.body(ep)
	if err != nil {
		return err
	}

	e, err := load(cli, os.Stderr)
	if err != nil {
		return err
	}
	exec, _, err := e.executor(nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var out json.RawMessage
	if err := ep.Call(ctx, exec, params, body, &out); err != nil {
		return err
	}
	return printJSON(os.Stdout, out)
}

func (c *CallCmd) body(ep endpoints.Endpoint) (any, error) {
	if c.Data == "" && c.File == "" && c.Reason == "" {
		return nil, nil
	}

	fields := map[string]any{}
	if c.Data != "" {
		dec := json.NewDecoder(bytes.NewReader([]byte(c.Data)))
		dec.UseNumber()
		if err := dec.Decode(&fields); err != nil {
			return nil, fmt.Errorf("--data: %w", err)
		}
	}
	if c.Reason != "" {
		fields["reason"] = c.Reason
	}
	if c.File != "" {
		if ep.Kind != rest.KindMultipart {
			return nil, fmt.Errorf("%s does not take attachments", ep.Name)
		}
		data, err := os.ReadFile(c.File)
		if err != nil {
			return nil, err
		}
		fields["file"] = rest.File{Name: filepath.Base(c.File), Data: data}
	}
	return fields, nil
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = w.Write(append(raw, '\n'))
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
