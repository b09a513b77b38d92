package lut

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// maxSuffix is the highest numeric suffix tried before giving up.
const maxSuffix = 98

var (
	chargeHeader    = []string{"stateOfCharge", "lowLoadVoltage", "highLoadVoltage"}
	dischargeHeader = []string{"stateOfCharge", "voltage"}
)

// CSVSink writes entries to charge-cycle.csv or discharge-cycle.csv. An
// existing file is never overwritten.
type CSVSink struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	w      *csv.Writer
	charge bool
}

// NewCSVSink creates the results file in dir. On a name collision the
// suffixes -01 to -98 are tried.
func NewCSVSink(dir string, charge bool) (*CSVSink, error) {
	base := "discharge-cycle"
	if charge {
		base = "charge-cycle"
	}

	var f *os.File
	var path string
	for i := 0; i <= maxSuffix; i++ {
		name := base + ".csv"
		if i > 0 {
			name = fmt.Sprintf("%s-%02d.csv", base, i)
		}
		path = filepath.Join(dir, name)

		var err error
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return nil, pkgerrors.Wrapf(err, "failed to create results file %s", path)
		}
		f = nil
	}
	if f == nil {
		return nil, pkgerrors.Errorf("no free results file name for %s in %s", base, dir)
	}

	s := &CSVSink{
		path:   path,
		file:   f,
		w:      csv.NewWriter(f),
		charge: charge,
	}

	header := dischargeHeader
	if charge {
		header = chargeHeader
	}
	err := s.write(header)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	logrus.WithField("path", path).Info("writing results")

	return s, nil
}

// Path returns the file being written.
func (s *CSVSink) Path() string {
	return s.path
}

func (s *CSVSink) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := []string{
		strconv.FormatFloat(e.StateOfChargePercent, 'f', 1, 64),
		strconv.FormatFloat(e.OpenCircuitVoltageMillivolts, 'f', 0, 64),
	}
	if s.charge {
		row = append(row, strconv.FormatFloat(e.LoadedVoltageMillivolts, 'f', 0, 64))
	}

	return s.write(row)
}

func (s *CSVSink) write(row []string) error {
	err := s.w.Write(row)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to write to %s", s.path)
	}
	s.w.Flush()
	err = s.w.Error()
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to flush %s", s.path)
	}
	return nil
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.w.Flush()
	err := s.file.Close()
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to close %s", s.path)
	}
	return nil
}
