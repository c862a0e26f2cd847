package main

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// lineFormatter writes entries as `[I | 15:04:05] message key=value`.
type lineFormatter struct{}

func (lineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer

	level := strings.ToUpper(entry.Level.String())
	fmt.Fprintf(&b, "[%s | %s] %s", level[:1], entry.Time.Format("15:04:05"), entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for key := range entry.Data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := entry.Data[key]
		if err, ok := value.(error); ok {
			value = err.Error()
		}
		fmt.Fprintf(&b, " %s=%v", key, value)
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

func newLogger(out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(lineFormatter{})
	logger.SetLevel(logrus.InfoLevel)
	return logger
}
