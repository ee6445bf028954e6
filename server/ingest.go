// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package server

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	apierrors "github.com/cubefs/mdstore/errors"
	"github.com/cubefs/mdstore/mdevents"
	"github.com/cubefs/mdstore/proto"
)

const ingestBatchSize = 4096

// IngestCSV reads events from r and adds them to ws. Each record holds the
// coordinates followed by signal and error squared; full events carry run
// index and detector id after those. Lines starting with '#' are skipped.
func IngestCSV(ctx context.Context, ws *mdevents.MDEventWorkspace, r io.Reader) (int, error) {
	span := trace.SpanFromContextSafe(ctx)
	nd := ws.NumDims()
	full := ws.EventType() == proto.FullEventType
	fields := nd + 2
	if full {
		fields += 2
	}

	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = fields
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	coords := make([]proto.Coord, nd)
	batch := make([]mdevents.Event, 0, ingestBatchSize)
	total := 0
	flush := func() error {
		n, err := ws.AddEvents(batch)
		total += n
		batch = batch[:0]
		return err
	}

	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, fmt.Errorf("%w: %s", apierrors.ErrInvalidArgument, err)
		}
		ev, err := parseRecord(record, nd, full, coords)
		if err != nil {
			return total, fmt.Errorf("%w: record %d: %s", apierrors.ErrInvalidArgument, line, err)
		}
		batch = append(batch, ev)
		if len(batch) == ingestBatchSize {
			if err = ctx.Err(); err != nil {
				return total, err
			}
			if err = flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}
	span.Infof("ingested %d events into workspace %s", total, ws.ID())
	return total, nil
}

func parseRecord(record []string, nd int, full bool, coords []proto.Coord) (mdevents.Event, error) {
	for d := 0; d < nd; d++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[d]), 32)
		if err != nil {
			return mdevents.Event{}, err
		}
		coords[d] = proto.Coord(v)
	}
	signal, err := strconv.ParseFloat(strings.TrimSpace(record[nd]), 64)
	if err != nil {
		return mdevents.Event{}, err
	}
	errorSquared, err := strconv.ParseFloat(strings.TrimSpace(record[nd+1]), 64)
	if err != nil {
		return mdevents.Event{}, err
	}
	if !full {
		return mdevents.NewEvent(nd, coords, signal, errorSquared)
	}
	runIndex, err := strconv.ParseUint(strings.TrimSpace(record[nd+2]), 10, 16)
	if err != nil {
		return mdevents.Event{}, err
	}
	detectorID, err := strconv.ParseInt(strings.TrimSpace(record[nd+3]), 10, 32)
	if err != nil {
		return mdevents.Event{}, err
	}
	return mdevents.NewFullEvent(nd, coords, signal, errorSquared, uint16(runIndex), int32(detectorID))
}
