package globaldict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/klauspost/compress/zstd"

	"github.com/pg-sharding/bulkload/pkg/storage"
)

func shardPath(prefix string, shard int) string {
	return path.Join(prefix, fmt.Sprintf("shard-%05d.jsonl.zst", shard))
}

// writeShard stores rows as zstd compressed JSON lines.
func writeShard(ctx context.Context, store *storage.Store, p string, rows [][]string) (err error) {
	w, err := store.NewWriter(ctx, p)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithZeroFrames(true))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(zw)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			_ = zw.Close()
			return fmt.Errorf("spill %s: %w", p, err)
		}
	}
	return zw.Close()
}

func readShard(ctx context.Context, store *storage.Store, p string) ([][]string, error) {
	r, err := store.NewReader(ctx, p)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var rows [][]string
	dec := json.NewDecoder(zr)
	for {
		var row []string
		err := dec.Decode(&row)
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read spilled %s: %w", p, err)
		}
		rows = append(rows, row)
	}
}
