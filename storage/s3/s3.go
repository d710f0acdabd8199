// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package s3 implements the storage.File contract over an S3 (or
// S3-compatible) bucket: a key prefix is a group, each group keeps a
// ".manifest.json" object listing its children and their kind, dataset
// bytes live at their own key, and attributes live in a ".attrs.json"
// sidecar object next to whichever group or dataset they describe.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/annstore/anndata/annerr"
	"github.com/annstore/anndata/internal/cache"
	"github.com/annstore/anndata/storage"
)

const manifestName = ".manifest.json"
const groupAttrsName = ".attrs.json"
const attrsSuffix = ".attrs.json"

// Config names the bucket and credentials used to reach it. Endpoint, if
// set, points the client at an S3-compatible service (e.g. MinIO) using
// path-style addressing instead of AWS's default virtual-hosted style.
type Config struct {
	Region          string `json:"region,omitempty"`
	Bucket          string `json:"bucket,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
}

// File is a key-prefix-backed storage.File.
type File struct {
	mu     sync.Mutex
	client *s3.Client
	bucket string
	prefix string // root key prefix, no trailing slash; "" means bucket root
	mode   storage.OpenMode
	path   string
	key    string
}

// openCache deduplicates concurrent Open calls for the same
// bucket/prefix/mode: only one caller pays for AWS client construction
// and the root manifest round-trip, the rest share the resulting *File.
// Sibling children of an AnnDataSet are commonly opened concurrently and
// frequently share a bucket.
var openCache = cache.New[*File]()

// Open connects to cfg.Bucket and roots the backend at keyPrefix (with
// any leading/trailing slashes trimmed). In ReadWrite mode the root
// manifest is read once; a missing one is treated as empty and is not
// written until a child is created under the root.
func Open(ctx context.Context, cfg Config, keyPrefix string, mode storage.OpenMode) (*File, error) {
	prefix := strings.Trim(keyPrefix, "/")
	key := fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%d", cfg.Bucket, cfg.Region, cfg.Endpoint, prefix, mode)

	return openCache.GetOrFill(key, func() (*File, error) {
		var awsCfg aws.Config
		var err error
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			awsCfg, err = config.LoadDefaultConfig(ctx,
				config.WithRegion(cfg.Region),
				config.WithCredentialsProvider(
					credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
				),
			)
		} else {
			awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
		}
		if err != nil {
			return nil, annerr.BackendFailuref(err, "storage/s3: load AWS config")
		}

		var opts []func(*s3.Options)
		if cfg.Endpoint != "" {
			opts = append(opts, func(o *s3.Options) {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
				o.UsePathStyle = true
			})
		}
		client := s3.NewFromConfig(awsCfg, opts...)

		f := &File{
			client: client,
			bucket: cfg.Bucket,
			prefix: prefix,
			mode:   mode,
			path:   fmt.Sprintf("s3://%s/%s", cfg.Bucket, prefix),
			key:    key,
		}

		if mode == storage.ReadWrite {
			if _, err := f.readManifest(ctx, prefix); err != nil {
				return nil, err
			}
		}
		return f, nil
	})
}

func (f *File) Root(ctx context.Context) (storage.Group, error) {
	return newGroup(f, f.prefix, "/"), nil
}

func (f *File) Mode() storage.OpenMode { return f.mode }

func (f *File) Path() string { return f.path }

func (f *File) Store(ctx context.Context) error { return nil }

func (f *File) Close() error {
	openCache.Forget(f.key)
	return nil
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func isNotFoundErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound")
}

func (f *File) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(f.bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFoundErr(err) {
			return nil, annerr.MissingKeyf("storage/s3: no object %q", key)
		}
		return nil, annerr.BackendFailuref(err, "storage/s3: get %q", key)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, annerr.BackendFailuref(err, "storage/s3: read body of %q", key)
	}
	return data, nil
}

func (f *File) getObjectRange(ctx context.Context, key string, start, size int64) ([]byte, error) {
	rng := fmt.Sprintf("bytes=%d-%d", start, start+size-1)
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(f.bucket), Key: aws.String(key), Range: aws.String(rng)})
	if err != nil {
		if isNotFoundErr(err) {
			return nil, annerr.MissingKeyf("storage/s3: no object %q", key)
		}
		return nil, annerr.BackendFailuref(err, "storage/s3: get range of %q", key)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, annerr.BackendFailuref(err, "storage/s3: read range body of %q", key)
	}
	return data, nil
}

func (f *File) putObject(ctx context.Context, key string, data []byte) error {
	_, err := f.client.PutObject(ctx, &s3.PutObjectInput{Bucket: aws.String(f.bucket), Key: aws.String(key), Body: bytes.NewReader(data)})
	if err != nil {
		return annerr.BackendFailuref(err, "storage/s3: put %q", key)
	}
	return nil
}

func (f *File) deleteObject(ctx context.Context, key string) error {
	_, err := f.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(f.bucket), Key: aws.String(key)})
	if err != nil && !isNotFoundErr(err) {
		return annerr.BackendFailuref(err, "storage/s3: delete %q", key)
	}
	return nil
}

// deletePrefix removes every object whose key starts with prefix+"/",
// used to truncate or delete a nested group.
func (f *File) deletePrefix(ctx context.Context, prefix string) error {
	listPrefix := prefix + "/"
	paginator := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(f.bucket),
		Prefix: aws.String(listPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return annerr.BackendFailuref(err, "storage/s3: list %q", listPrefix)
		}
		for _, obj := range page.Contents {
			if err := f.deleteObject(ctx, aws.ToString(obj.Key)); err != nil {
				return err
			}
		}
	}
	return nil
}

type manifest struct {
	Children map[string]string `json:"children"` // name -> "group" | "dataset"
}

func (f *File) readManifest(ctx context.Context, prefix string) (*manifest, error) {
	data, err := f.getObject(ctx, joinKey(prefix, manifestName))
	if err != nil {
		var m manifest
		m.Children = map[string]string{}
		return &m, nil
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, annerr.BackendFailuref(err, "storage/s3: decode manifest %q", joinKey(prefix, manifestName))
	}
	if m.Children == nil {
		m.Children = map[string]string{}
	}
	return &m, nil
}

func (f *File) writeManifest(ctx context.Context, prefix string, m *manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return annerr.BackendFailuref(err, "storage/s3: encode manifest %q", joinKey(prefix, manifestName))
	}
	return f.putObject(ctx, joinKey(prefix, manifestName), data)
}

type attrsFile struct {
	Shape    []int               `json:"shape,omitempty"`
	StrAttrs map[string]string   `json:"str_attrs,omitempty"`
	NumAttrs map[string]float64  `json:"num_attrs,omitempty"`
	ArrAttrs map[string][]string `json:"arr_attrs,omitempty"`
}

// container is embedded by group and dataset; attrsKey identifies the
// sidecar object holding this container's own attributes.
type container struct {
	f        *File
	attrsKey string
	path     string
}

func (c *container) Path() string { return c.path }

func (c *container) checkWritable() error {
	if c.f.mode != storage.ReadWrite {
		return annerr.ReadOnlyf("storage/s3: %s is read-only", c.path)
	}
	return nil
}

func (c *container) loadAttrs(ctx context.Context) (*attrsFile, error) {
	data, err := c.f.getObject(ctx, c.attrsKey)
	if err != nil {
		return &attrsFile{}, nil
	}
	var a attrsFile
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, annerr.BackendFailuref(err, "storage/s3: decode attrs %q", c.attrsKey)
	}
	return &a, nil
}

func (c *container) saveAttrs(ctx context.Context, a *attrsFile) error {
	data, err := json.Marshal(a)
	if err != nil {
		return annerr.BackendFailuref(err, "storage/s3: encode attrs %q", c.attrsKey)
	}
	return c.f.putObject(ctx, c.attrsKey, data)
}

func (c *container) GetStrAttr(ctx context.Context, name string) (string, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	a, err := c.loadAttrs(ctx)
	if err != nil {
		return "", err
	}
	v, ok := a.StrAttrs[name]
	if !ok {
		return "", annerr.MissingKeyf("storage/s3: no string attr %q on %s", name, c.path)
	}
	return v, nil
}

func (c *container) SetStrAttr(ctx context.Context, name, value string) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	a, err := c.loadAttrs(ctx)
	if err != nil {
		return err
	}
	if a.StrAttrs == nil {
		a.StrAttrs = map[string]string{}
	}
	a.StrAttrs[name] = value
	return c.saveAttrs(ctx, a)
}

func (c *container) GetScalarAttr(ctx context.Context, name string) (float64, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	a, err := c.loadAttrs(ctx)
	if err != nil {
		return 0, err
	}
	v, ok := a.NumAttrs[name]
	if !ok {
		return 0, annerr.MissingKeyf("storage/s3: no scalar attr %q on %s", name, c.path)
	}
	return v, nil
}

func (c *container) SetScalarAttr(ctx context.Context, name string, value float64) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	a, err := c.loadAttrs(ctx)
	if err != nil {
		return err
	}
	if a.NumAttrs == nil {
		a.NumAttrs = map[string]float64{}
	}
	a.NumAttrs[name] = value
	return c.saveAttrs(ctx, a)
}

func (c *container) GetArrayAttr(ctx context.Context, name string) ([]string, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	a, err := c.loadAttrs(ctx)
	if err != nil {
		return nil, err
	}
	v, ok := a.ArrAttrs[name]
	if !ok {
		return nil, annerr.MissingKeyf("storage/s3: no array attr %q on %s", name, c.path)
	}
	return append([]string(nil), v...), nil
}

func (c *container) SetArrayAttr(ctx context.Context, name string, value []string) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	a, err := c.loadAttrs(ctx)
	if err != nil {
		return err
	}
	if a.ArrAttrs == nil {
		a.ArrAttrs = map[string][]string{}
	}
	a.ArrAttrs[name] = append([]string(nil), value...)
	return c.saveAttrs(ctx, a)
}

func (c *container) ListAttrs(ctx context.Context) ([]string, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	a, err := c.loadAttrs(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(a.StrAttrs)+len(a.NumAttrs)+len(a.ArrAttrs))
	for k := range a.StrAttrs {
		names = append(names, k)
	}
	for k := range a.NumAttrs {
		names = append(names, k)
	}
	for k := range a.ArrAttrs {
		names = append(names, k)
	}
	return names, nil
}

type group struct {
	*container
	prefix string
}

func newGroup(f *File, prefix, path string) *group {
	return &group{
		container: &container{f: f, attrsKey: joinKey(prefix, groupAttrsName), path: path},
		prefix:    prefix,
	}
}

func (g *group) childPath(name string) string {
	if g.path == "/" {
		return "/" + name
	}
	return g.path + "/" + name
}

func (g *group) List(ctx context.Context) ([]string, error) {
	m, err := g.f.readManifest(ctx, g.prefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m.Children))
	for name := range m.Children {
		names = append(names, name)
	}
	return names, nil
}

func (g *group) Exists(ctx context.Context, name string) (bool, error) {
	m, err := g.f.readManifest(ctx, g.prefix)
	if err != nil {
		return false, err
	}
	_, ok := m.Children[name]
	return ok, nil
}

func (g *group) OpenGroup(ctx context.Context, name string) (storage.Group, error) {
	m, err := g.f.readManifest(ctx, g.prefix)
	if err != nil {
		return nil, err
	}
	if kind, ok := m.Children[name]; !ok || kind != "group" {
		return nil, annerr.MissingKeyf("storage/s3: no group %q under %s", name, g.path)
	}
	return newGroup(g.f, joinKey(g.prefix, name), g.childPath(name)), nil
}

func (g *group) NewGroup(ctx context.Context, name string) (storage.Group, error) {
	if err := g.checkWritable(); err != nil {
		return nil, err
	}
	childPrefix := joinKey(g.prefix, name)
	if err := g.f.deletePrefix(ctx, childPrefix); err != nil {
		return nil, err
	}

	g.f.mu.Lock()
	defer g.f.mu.Unlock()
	m, err := g.f.readManifest(ctx, g.prefix)
	if err != nil {
		return nil, err
	}
	m.Children[name] = "group"
	if err := g.f.writeManifest(ctx, g.prefix, m); err != nil {
		return nil, err
	}
	child := newGroup(g.f, childPrefix, g.childPath(name))
	if err := child.writeManifest(ctx); err != nil {
		return nil, err
	}
	return child, nil
}

func (g *group) writeManifest(ctx context.Context) error {
	return g.f.writeManifest(ctx, g.prefix, &manifest{Children: map[string]string{}})
}

func (g *group) OpenDataset(ctx context.Context, name string) (storage.Dataset, error) {
	m, err := g.f.readManifest(ctx, g.prefix)
	if err != nil {
		return nil, err
	}
	if kind, ok := m.Children[name]; !ok || kind != "dataset" {
		return nil, annerr.MissingKeyf("storage/s3: no dataset %q under %s", name, g.path)
	}
	return newDataset(g.f, joinKey(g.prefix, name), g.childPath(name)), nil
}

func (g *group) NewDataset(ctx context.Context, name string, data []byte, shape []int, cfg storage.DatasetConfig) (storage.Dataset, error) {
	if err := g.checkWritable(); err != nil {
		return nil, err
	}
	dataKey := joinKey(g.prefix, name)
	if err := g.f.putObject(ctx, dataKey, data); err != nil {
		return nil, err
	}
	d := newDataset(g.f, dataKey, g.childPath(name))
	if err := d.saveAttrs(ctx, &attrsFile{Shape: append([]int(nil), shape...)}); err != nil {
		return nil, err
	}

	g.f.mu.Lock()
	defer g.f.mu.Unlock()
	m, err := g.f.readManifest(ctx, g.prefix)
	if err != nil {
		return nil, err
	}
	m.Children[name] = "dataset"
	if err := g.f.writeManifest(ctx, g.prefix, m); err != nil {
		return nil, err
	}
	return d, nil
}

func (g *group) Delete(ctx context.Context, name string) error {
	if err := g.checkWritable(); err != nil {
		return err
	}
	g.f.mu.Lock()
	m, err := g.f.readManifest(ctx, g.prefix)
	if err != nil {
		g.f.mu.Unlock()
		return err
	}
	kind, ok := m.Children[name]
	if !ok {
		g.f.mu.Unlock()
		return annerr.MissingKeyf("storage/s3: no child %q under %s", name, g.path)
	}
	delete(m.Children, name)
	err = g.f.writeManifest(ctx, g.prefix, m)
	g.f.mu.Unlock()
	if err != nil {
		return err
	}

	childKey := joinKey(g.prefix, name)
	if kind == "group" {
		return g.f.deletePrefix(ctx, childKey)
	}
	if err := g.f.deleteObject(ctx, childKey); err != nil {
		return err
	}
	return g.f.deleteObject(ctx, childKey+attrsSuffix)
}

type dataset struct {
	*container
	dataKey string
}

func newDataset(f *File, dataKey, path string) *dataset {
	return &dataset{container: &container{f: f, attrsKey: dataKey + attrsSuffix, path: path}, dataKey: dataKey}
}

func (d *dataset) Shape(ctx context.Context) ([]int, error) {
	a, err := d.loadAttrs(ctx)
	if err != nil {
		return nil, err
	}
	return append([]int(nil), a.Shape...), nil
}

func (d *dataset) ReadAll(ctx context.Context) ([]byte, error) {
	return d.f.getObject(ctx, d.dataKey)
}

func (d *dataset) ReadRange(ctx context.Context, start, size int64) ([]byte, error) {
	return d.f.getObjectRange(ctx, d.dataKey, start, size)
}

func (d *dataset) WriteAll(ctx context.Context, data []byte, shape []int) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	if err := d.f.putObject(ctx, d.dataKey, data); err != nil {
		return err
	}
	a, err := d.loadAttrs(ctx)
	if err != nil {
		return err
	}
	a.Shape = append([]int(nil), shape...)
	return d.saveAttrs(ctx, a)
}
