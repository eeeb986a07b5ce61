package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mllp-protocol/mllp-go/pkg/log"
)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.mlog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	for _, e := range events {
		if err := logger.Log(e); err != nil {
			t.Fatalf("failed to write event: %v", err)
		}
	}
	logger.Close()

	return path
}

func sampleEvents() []log.Event {
	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	return []log.Event{
		{
			Timestamp:    ts,
			ConnectionID: "conn-aaaa-bbbb",
			Direction:    log.DirectionIn,
			Layer:        log.LayerTransport,
			Category:     log.CategoryMessage,
			RemoteAddr:   "10.0.0.5:51234",
			Frame:        &log.FrameEvent{Size: 48, Data: []byte("MSH|test")},
		},
		{
			Timestamp:    ts.Add(time.Second),
			ConnectionID: "conn-aaaa-bbbb",
			Direction:    log.DirectionOut,
			Layer:        log.LayerMessage,
			Category:     log.CategoryMessage,
			RemoteAddr:   "10.0.0.5:51234",
			Message:      &log.MessageEvent{Text: "MSH|^~\\&|A|B\rMSA|AA|1", Encoding: "UTF-8"},
		},
		{
			Timestamp:    ts.Add(2 * time.Second),
			ConnectionID: "conn-cccc-dddd",
			Layer:        log.LayerTransport,
			Category:     log.CategoryState,
			StateChange:  &log.StateChangeEvent{Entity: log.StateEntityConnection, NewState: "CONNECTED"},
		},
		{
			Timestamp:    ts.Add(3 * time.Second),
			ConnectionID: "conn-cccc-dddd",
			Layer:        log.LayerTransport,
			Category:     log.CategoryError,
			Error:        &log.ErrorEventData{Layer: log.LayerTransport, Message: "framing violation"},
		},
	}
}

func TestViewAllEvents(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}

	output := buf.String()
	for _, want := range []string{"Frame", "Message", "State", "Error", "conn-aaa", "framing violation", "| MSA|AA|1"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got:\n%s", want, output)
		}
	}
}

func TestViewFilterByLayer(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	layer := log.LayerMessage
	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{Layer: &layer}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Message") {
		t.Error("expected message event in output")
	}
	if strings.Contains(output, "Frame") {
		t.Error("transport frame event should be filtered out")
	}
}

func TestViewFilterByConnID(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{ConnID: "conn-cccc"}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}

	output := buf.String()
	if strings.Contains(output, "conn-aaa") {
		t.Error("events from other connections should be filtered out")
	}
	if !strings.Contains(output, "conn-ccc") {
		t.Error("expected matching connection in output")
	}
}

func TestParseFlags(t *testing.T) {
	if _, err := ParseLayerFlag("message"); err != nil {
		t.Errorf("ParseLayerFlag failed: %v", err)
	}
	if _, err := ParseLayerFlag("wire"); err == nil {
		t.Error("expected error for unknown layer")
	}
	if _, err := ParseDirectionFlag("OUT"); err != nil {
		t.Errorf("ParseDirectionFlag failed: %v", err)
	}
	if _, err := ParseCategoryFlag("bogus"); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestExportJSONL(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.jsonl")

	if err := RunExport(path, "jsonl", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if lines := strings.Count(strings.TrimSpace(string(data)), "\n") + 1; lines != 4 {
		t.Errorf("expected 4 JSONL lines, got %d", lines)
	}
}

func TestExportCSV(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.csv")

	if err := RunExport(path, "csv", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	data := string(raw)
	if !strings.HasPrefix(data, "timestamp,connection_id,") {
		t.Errorf("expected CSV header, got: %s", data)
	}
	if !strings.Contains(data, "10.0.0.5:51234") {
		t.Error("expected remote address column in CSV output")
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	if err := RunExport(path, "xml", ""); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestFilterToNewFile(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "filtered.mlog")

	opts := FilterOptions{
		Output: out,
		ConnID: "conn-aaaa-bbbb",
	}
	if err := RunFilter(path, opts); err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}

	reader, err := log.NewReader(out)
	if err != nil {
		t.Fatalf("failed to open filtered file: %v", err)
	}
	defer reader.Close()

	events, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("failed to read filtered events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 filtered events, got %d", len(events))
	}
	for _, e := range events {
		if e.ConnectionID != "conn-aaaa-bbbb" {
			t.Errorf("unexpected connection ID %q in filtered output", e.ConnectionID)
		}
	}
}

func TestFilterInvalidTime(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	opts := FilterOptions{
		Output:    filepath.Join(t.TempDir(), "out.mlog"),
		TimeStart: "yesterday",
	}
	if err := RunFilter(path, opts); err == nil {
		t.Error("expected error for invalid time format")
	}
}

func TestStats(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}

	output := buf.String()
	for _, want := range []string{
		"Total Events: 4",
		"Connections: 2",
		"Errors: 1",
		"TRANSPORT:",
		"MESSAGE:",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got:\n%s", want, output)
		}
	}
}
