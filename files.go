// Copyright (C) The Integra Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package integra

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"
)

type file interface {
	io.ReadCloser
	Readdir(n int) ([]os.FileInfo, error)
}

// open returns a reader for a local file, a gs://bucket/object, or
// (when ARVADOS_API_HOST is set) a path inside a Keep collection.
func open(fnm string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(fnm, "gs://"):
		return openGS(context.Background(), fnm)
	case isKeepPath(fnm):
		return openKeep(fnm)
	default:
		return os.Open(fnm)
	}
}

// zopen is like open, but decompresses fnm if it ends in ".gz".
func zopen(fnm string) (io.ReadCloser, error) {
	f, err := open(fnm)
	if err != nil || !strings.HasSuffix(fnm, ".gz") {
		return f, err
	}
	rdr, err := pgzip.NewReader(bufio.NewReaderSize(f, 4*1024*1024))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w: %s", fnm, ErrMalformedInput, err)
	}
	return gzipr{rdr, f}, nil
}

// gzipr wraps a ReadCloser and a Closer, presenting a single Close()
// method that closes both wrapped objects.
type gzipr struct {
	io.ReadCloser
	io.Closer
}

func (gr gzipr) Close() error {
	e1 := gr.ReadCloser.Close()
	e2 := gr.Closer.Close()
	if e1 != nil {
		return e1
	}
	return e2
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, storage.ErrObjectNotExist) ||
		errors.Is(err, storage.ErrBucketNotExist)
}

// readFile returns the (decompressed) content of fnm.
func readFile(fnm string) ([]byte, error) {
	f, err := zopen(fnm)
	if isNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrInputNotFound, fnm)
	} else if err != nil {
		return nil, err
	}
	defer f.Close()
	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return buf, nil
}

// readDir returns the sorted names of the regular, non-hidden files
// in dir.
func readDir(dir string) ([]string, error) {
	var names []string
	if strings.HasPrefix(dir, "gs://") {
		var err error
		names, err = readDirGS(context.Background(), dir)
		if err != nil {
			return nil, err
		}
	} else {
		var d file
		var err error
		if isKeepPath(dir) {
			d, err = openKeep(dir)
		} else {
			d, err = os.Open(dir)
		}
		if isNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, dir)
		} else if err != nil {
			return nil, err
		}
		defer d.Close()
		fis, err := d.Readdir(-1)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", dir, err)
		}
		for _, fi := range fis {
			if fi.Mode().IsRegular() {
				names = append(names, fi.Name())
			}
		}
	}
	var visible []string
	for _, name := range names {
		if !strings.HasPrefix(name, ".") {
			visible = append(visible, name)
		}
	}
	sort.Strings(visible)
	return visible, nil
}

// joinPath joins a directory (local, Keep, or gs://) and a file name.
func joinPath(dir, name string) string {
	if strings.HasPrefix(dir, "gs://") {
		return strings.TrimSuffix(dir, "/") + "/" + name
	}
	return filepath.Join(dir, name)
}

// writeOutput calls write with a writer for fnm, compressing if fnm
// ends in ".gz". "-" (or "") means stdout. Local files are written to
// a temporary file in the same directory and renamed into place only
// if write succeeds, so a failed run never leaves a partial output.
func writeOutput(fnm string, stdout io.Writer, write func(io.Writer) error) error {
	if fnm == "" || fnm == "-" {
		bufw := bufio.NewWriter(stdout)
		err := write(bufw)
		if err != nil {
			return err
		}
		return bufw.Flush()
	}
	if strings.HasPrefix(fnm, "gs://") {
		return writeGS(context.Background(), fnm, write)
	}
	f, err := os.CreateTemp(filepath.Dir(fnm), "."+filepath.Base(fnm)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	err = writeMaybeCompressed(f, fnm, write)
	if err != nil {
		f.Close()
		return err
	}
	err = f.Chmod(0644)
	if err != nil {
		f.Close()
		return err
	}
	err = f.Close()
	if err != nil {
		return err
	}
	log.Debugf("renaming %s to %s", f.Name(), fnm)
	return os.Rename(f.Name(), fnm)
}

func writeMaybeCompressed(w io.Writer, fnm string, write func(io.Writer) error) error {
	bufw := bufio.NewWriterSize(w, 1<<20)
	if strings.HasSuffix(fnm, ".gz") {
		gz := pgzip.NewWriter(bufw)
		err := write(gz)
		if err != nil {
			return err
		}
		err = gz.Close()
		if err != nil {
			return err
		}
	} else {
		err := write(bufw)
		if err != nil {
			return err
		}
	}
	return bufw.Flush()
}

// nopCloser wraps an io.Writer, adding a Close method that does
// nothing.
type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func splitGSPath(fnm string) (bucket, object string, err error) {
	parts := strings.SplitN(strings.TrimPrefix(fnm, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", fmt.Errorf("invalid google storage path %q: expected gs://bucket/path", fnm)
	}
	return parts[0], parts[1], nil
}

// gsReader closes the storage client along with the object reader.
type gsReader struct {
	*storage.Reader
	client *storage.Client
}

func (r gsReader) Close() error {
	err := r.Reader.Close()
	r.client.Close()
	return err
}

func openGS(ctx context.Context, fnm string) (io.ReadCloser, error) {
	bucket, object, err := splitGSPath(fnm)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	rdr, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}
	return gsReader{Reader: rdr, client: client}, nil
}

func readDirGS(ctx context.Context, dir string) ([]string, error) {
	bucket, prefix, err := splitGSPath(strings.TrimSuffix(dir, "/") + "/")
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	it := client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})
	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		} else if err != nil {
			return nil, fmt.Errorf("%s: %w", dir, err)
		}
		if attrs.Name == "" || strings.HasSuffix(attrs.Name, "/") {
			// subdirectory prefix, or directory placeholder
			continue
		}
		names = append(names, path.Base(attrs.Name))
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrInputNotFound, dir)
	}
	return names, nil
}

func writeGS(ctx context.Context, fnm string, write func(io.Writer) error) error {
	bucket, object, err := splitGSPath(fnm)
	if err != nil {
		return err
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	// canceling the context before Close discards the object
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := client.Bucket(bucket).Object(object).NewWriter(ctx)
	err = writeMaybeCompressed(w, fnm, write)
	if err != nil {
		cancel()
		w.Close()
		return err
	}
	return w.Close()
}
