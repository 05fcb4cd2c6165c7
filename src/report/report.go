// Package report writes and reads crash reports for chunks that faulted. A
// report is the runtime error flattened into a CBOR document so that it can be
// inspected after the process that produced it is gone.
package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/tanema/lvm/src/conf"
	"github.com/tanema/lvm/src/lerrors"
)

// Extension is the file extension of a crash report.
const Extension = ".lvmcrash"

// Report is everything known about a chunk fault.
type Report struct {
	Version     string    `cbor:"1,keyasint"`
	Chunk       string    `cbor:"2,keyasint"`
	Message     string    `cbor:"3,keyasint"`
	PC          int64     `cbor:"4,keyasint"`
	Line        int64     `cbor:"5,keyasint"`
	Instruction string    `cbor:"6,keyasint"`
	Depth       int       `cbor:"7,keyasint"`
	Backlog     []string  `cbor:"8,keyasint,omitempty"`
	Time        time.Time `cbor:"9,keyasint"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("report: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// New builds a report from a chunk failure. Errors that did not come from the
// runtime only carry their message.
func New(chunk string, err error) *Report {
	rpt := &Report{
		Version: conf.LVMVERSION,
		Chunk:   chunk,
		Message: err.Error(),
		Time:    time.Now().UTC().Truncate(time.Second),
	}
	var lerr *lerrors.Error
	if errors.As(err, &lerr) {
		if lerr.Chunk != "" {
			rpt.Chunk = lerr.Chunk
		}
		rpt.Message = lerr.Err.Error()
		rpt.PC = lerr.PC
		rpt.Line = lerr.Line
		rpt.Instruction = strings.TrimSpace(lerr.Instruction)
		rpt.Depth = lerr.Depth
		rpt.Backlog = lerr.Backlog
	}
	return rpt
}

// Marshal serializes a report to CBOR bytes.
func Marshal(rpt *Report) ([]byte, error) {
	return encMode.Marshal(rpt)
}

// Unmarshal deserializes a report from CBOR bytes.
func Unmarshal(data []byte) (*Report, error) {
	var rpt Report
	if err := cbor.Unmarshal(data, &rpt); err != nil {
		return nil, fmt.Errorf("report: unmarshal: %w", err)
	}
	return &rpt, nil
}

// Write stores the report in dir, creating it if needed, and returns the path
// of the new file.
func Write(dir string, rpt *Report) (string, error) {
	data, err := Marshal(rpt)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("report: %w", err)
	}
	name := fmt.Sprintf("%v-%v%v", strings.TrimSuffix(filepath.Base(rpt.Chunk), filepath.Ext(rpt.Chunk)), rpt.Time.Unix(), Extension)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("report: %w", err)
	}
	return path, nil
}

// Read loads a report written by Write.
func Read(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	return Unmarshal(data)
}

// Show prints a report in a readable form.
func Show(out io.Writer, rpt *Report) error {
	_, err := fmt.Fprintf(
		out,
		"%v crashed at %v (%v)\n  %v\n  pc %v line %v depth %v\n  %v\n",
		rpt.Chunk,
		rpt.Time.Format(time.RFC3339),
		rpt.Version,
		rpt.Message,
		rpt.PC,
		rpt.Line,
		rpt.Depth,
		rpt.Instruction,
	)
	if err != nil || len(rpt.Backlog) == 0 {
		return err
	}
	_, err = fmt.Fprintf(out, "backlog:\n\t%v\n", strings.Join(rpt.Backlog, "\n\t"))
	return err
}
