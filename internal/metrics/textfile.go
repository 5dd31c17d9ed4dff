package metrics

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// WriteTextfile writes every metric in gatherer to path in the text
// exposition format read by node_exporter's textfile collector. The file is
// replaced atomically.
func WriteTextfile(path string, gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	var buf bytes.Buffer
	if err := encodeText(&buf, families); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".kvs-tester-*.prom")
	if err != nil {
		return fmt.Errorf("textfile: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("textfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("textfile: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("textfile: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func encodeText(buf *bytes.Buffer, families []*dto.MetricFamily) error {
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(buf, mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
