// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package confgen

import (
	"context"
	"io/ioutil"
	"os"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
)

// PathEnv is the environment variable that lists directories
// searched for included documents.
const PathEnv = "FHICL_FILE_PATH"

// A SearchPath is an ordered list of directories (local or remote
// file paths) that are searched for included documents.
type SearchPath []string

// SearchPathFromEnv returns the search path listed in $FHICL_FILE_PATH.
func SearchPathFromEnv() SearchPath {
	var path SearchPath
	for _, dir := range strings.Split(os.Getenv(PathEnv), ":") {
		if dir != "" {
			path = append(path, dir)
		}
	}
	return path
}

// Read returns the contents of the first document named name in the
// search path. Absolute names are read directly. Read returns an
// error of kind errors.NotExist if no such document exists.
func (s SearchPath) Read(ctx context.Context, name string) (string, error) {
	if strings.HasPrefix(name, "/") || strings.Contains(name, "://") {
		return readFile(ctx, name)
	}
	for _, dir := range s {
		text, err := readFile(ctx, file.Join(dir, name))
		if err == nil {
			return text, nil
		}
		if !errors.Is(errors.NotExist, err) {
			return "", err
		}
	}
	return "", errors.E(errors.NotExist, "document "+name+" not found in search path")
}

func readFile(ctx context.Context, path string) (text string, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := f.Close(ctx); err == nil {
			err = cerr
		}
	}()
	p, err := ioutil.ReadAll(f.Reader(ctx))
	if err != nil {
		return "", errors.E(err, "read "+path)
	}
	return string(p), nil
}
