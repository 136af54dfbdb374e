// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package confgen

import (
	"context"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/daqctl"
)

// maxArchiveTries is the number of times an archive write is tried
// before it fails.
const maxArchiveTries = 5

var archivePolicy = retry.Backoff(time.Second, 10*time.Second, 2)

// Archive copies the provided documents to prefix/run/, where
// prefix may be any path supported by package
// github.com/grailbio/base/file, including S3 URLs. Writes that fail
// with temporary errors are retried.
func Archive(ctx context.Context, prefix, run string, docs []*daqctl.Document) error {
	dir := file.Join(prefix, run)
	return traverse.Limit(8).Each(len(docs), func(i int) error {
		doc := docs[i]
		path := file.Join(dir, doc.Name)
		for retries := 0; ; retries++ {
			err := writeFile(ctx, path, doc.Text)
			if err == nil {
				log.Debug.Printf("archived %s", path)
				return nil
			}
			if !errors.IsTemporary(err) || retries+1 >= maxArchiveTries {
				return errors.E(err, "archive "+doc.Name)
			}
			log.Error.Printf("archive %s: try %d: %v", path, retries+1, err)
			if err := retry.Wait(ctx, archivePolicy, retries); err != nil {
				return err
			}
		}
	})
}
