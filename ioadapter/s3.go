/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package ioadapter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cea-hpc/phobos-go/internal/telemetry"
	"github.com/cea-hpc/phobos-go/mapper"
	"github.com/cea-hpc/phobos-go/pho"
)

// S3Adapter generalises the "directory" backend to an S3-compatible object
// store, the way memcp/storage/persistence-s3.go generalises file
// persistence. S3 has no append/partial-write primitive, so Write buffers
// in memory and Close issues one PutObject — any write-side error deletes
// the (possibly partial) object instead of leaving it dangling.
type S3Adapter struct {
	Bucket         string
	Region         string
	Endpoint       string
	AccessKeyID    string
	SecretAccessKey string
	ForcePathStyle bool
	Log            telemetry.Logger

	mu     sync.Mutex
	client *s3.Client
	opened bool
}

func NewS3Adapter(bucket, region, endpoint, accessKeyID, secretAccessKey string, forcePathStyle bool) *S3Adapter {
	return &S3Adapter{
		Bucket: bucket, Region: region, Endpoint: endpoint,
		AccessKeyID: accessKeyID, SecretAccessKey: secretAccessKey,
		ForcePathStyle: forcePathStyle, Log: telemetry.Default(),
	}
}

func (a *S3Adapter) ensureOpen() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.opened {
		return nil
	}
	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if a.Region != "" {
		opts = append(opts, config.WithRegion(a.Region))
	}
	if a.AccessKeyID != "" && a.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(a.AccessKeyID, a.SecretAccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return pho.Wrap(pho.IoFailed, "s3: load aws config", err)
	}
	var s3Opts []func(*s3.Options)
	if a.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(a.Endpoint) })
	}
	if a.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	a.client = s3.NewFromConfig(cfg, s3Opts...)
	a.opened = true
	return nil
}

type s3Handle struct {
	a       *S3Adapter
	address string
	isPut   bool
	buf     bytes.Buffer
	offset  int64
}

func (h *s3Handle) Address() string { return h.address }

func (a *S3Adapter) synthesizeAddress(loc *pho.Extent) (string, error) {
	tag := "p" + itoa(loc.LayoutIdx%3)
	return mapper.CleanPath(loc.UUID, tag, 4096)
}

func (a *S3Adapter) Open(loc *pho.Extent, root string, flags OpenFlags) (Handle, error) {
	if err := a.ensureOpen(); err != nil {
		return nil, err
	}
	if loc.Address == "" {
		if !flags.IsPut {
			return nil, pho.New(pho.InvalidInput, "s3 open: no address on a non-put extent")
		}
		addr, err := a.synthesizeAddress(loc)
		if err != nil {
			return nil, err
		}
		loc.Address = addr
	}
	return &s3Handle{a: a, address: loc.Address, isPut: flags.IsPut}, nil
}

func (a *S3Adapter) Write(hh Handle, buf []byte) (int, error) {
	h, ok := hh.(*s3Handle)
	if !ok {
		return 0, pho.New(pho.InvalidInput, "s3 write: invalid handle")
	}
	n, _ := h.buf.Write(buf)
	return n, nil
}

func (a *S3Adapter) Read(hh Handle, buf []byte) (int, error) {
	h, ok := hh.(*s3Handle)
	if !ok {
		return 0, pho.New(pho.InvalidInput, "s3 read: invalid handle")
	}
	rangeHdr := fmt.Sprintf("bytes=%d-%d", h.offset, h.offset+int64(len(buf))-1)
	resp, err := a.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(a.Bucket),
		Key:    aws.String(h.address),
		Range:  aws.String(rangeHdr),
	})
	if err != nil {
		return 0, pho.Wrap(pho.IoFailed, "s3 read", err)
	}
	defer resp.Body.Close()
	n, err := io.ReadFull(resp.Body, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	h.offset += int64(n)
	if err != nil {
		return n, pho.Wrap(pho.IoFailed, "s3 read", err)
	}
	return n, nil
}

// Close flushes the buffered Write calls as a single PutObject. Any error
// here means no object (or a stale partial one) should survive, so we
// best-effort delete it, mirroring the write-side cleanup policy (spec §7).
func (a *S3Adapter) Close(hh Handle) error {
	h, ok := hh.(*s3Handle)
	if !ok {
		return pho.New(pho.InvalidInput, "s3 close: invalid handle")
	}
	if !h.isPut {
		return nil
	}
	_, err := a.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(a.Bucket),
		Key:    aws.String(h.address),
		Body:   bytes.NewReader(h.buf.Bytes()),
	})
	if err != nil {
		if _, derr := a.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
			Bucket: aws.String(a.Bucket), Key: aws.String(h.address),
		}); derr != nil {
			a.Log.Warnf("s3 close: cleanup delete of %s failed: %v", h.address, derr)
		}
		return pho.Wrap(pho.IoFailed, "s3 close: put object", err)
	}
	return nil
}

func (a *S3Adapter) Del(loc *pho.Extent, root string) error {
	if err := a.ensureOpen(); err != nil {
		return err
	}
	if loc.Address == "" {
		addr, err := a.synthesizeAddress(loc)
		if err != nil {
			return err
		}
		a.Log.Warnf("s3 del: regenerated missing address for extent %s: %s", loc.UUID, addr)
		loc.Address = addr
	}
	_, err := a.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(a.Bucket), Key: aws.String(loc.Address),
	})
	if err != nil {
		return pho.Wrap(pho.IoFailed, "s3 del", err)
	}
	return nil
}

// Sync is a no-op: S3 writes are already durable once PutObject returns.
func (a *S3Adapter) Sync(root string) error { return nil }

// SetMD stores attrs as S3 object metadata by re-uploading via CopyObject
// with MetadataDirective=REPLACE, the closest S3 analog to xattr semantics.
func (a *S3Adapter) SetMD(hh Handle, attrs map[string][]byte, flags OpenFlags) error {
	h, ok := hh.(*s3Handle)
	if !ok {
		return pho.New(pho.InvalidInput, "s3 set_md: invalid handle")
	}
	meta := make(map[string]string, len(attrs))
	for k, v := range attrs {
		if v != nil {
			meta[k] = string(v)
		}
	}
	_, err := a.client.CopyObject(context.Background(), &s3.CopyObjectInput{
		Bucket:            aws.String(a.Bucket),
		Key:               aws.String(h.address),
		CopySource:        aws.String(a.Bucket + "/" + h.address),
		Metadata:          meta,
		MetadataDirective: s3types.MetadataDirectiveReplace,
	})
	if err != nil {
		return pho.Wrap(pho.IoFailed, "s3 set_md", err)
	}
	return nil
}

func (a *S3Adapter) GetMD(root string, loc *pho.Extent, keys []string) (map[string][]byte, error) {
	if err := a.ensureOpen(); err != nil {
		return nil, err
	}
	head, err := a.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(a.Bucket), Key: aws.String(loc.Address),
	})
	if err != nil {
		return nil, pho.Wrap(pho.IoFailed, "s3 get_md", err)
	}
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := head.Metadata[k]; ok {
			out[k] = []byte(v)
		}
	}
	return out, nil
}
