// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package sensor

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/apex/log"
)

// ReadLines reads one reading per line from r and sends it on out. Lines
// that are not a number are skipped. out is closed when r is exhausted or
// done is closed.
func ReadLines(r io.Reader, out chan<- float64, done <-chan struct{}, ctx log.Interface) error {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		value, err := strconv.ParseFloat(line, 64)
		if err != nil {
			ctx.WithError(err).WithField("Line", line).Warn("Skipping invalid reading")
			samplesCounter.WithLabelValues("invalid").Inc()
			continue
		}
		select {
		case out <- value:
		case <-done:
			return nil
		}
	}
	return scanner.Err()
}
