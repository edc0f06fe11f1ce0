// Copyright 2016 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package codesearch

import (
	"fmt"
	"log"
	"os"
	"runtime"

	// cross-platform memory-mapped file package.
	// Benchmarks the same speed as syscall/unix Mmap
	// see https://github.com/peterguy/benchmark-mmap
	mmap "github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"
)

// mmapedIndexFile is a read-only, page-aligned view of an on-disk index
// (spec 6). LoadIndex (read.go) slices each chunk's data directly out
// of data, so once Close has been called those chunk bytes may not be
// touched again.
type mmapedIndexFile struct {
	name string
	size uint32
	data mmap.MMap
}

func (f *mmapedIndexFile) Read(off, sz uint32) ([]byte, error) {
	if off > off+sz || off+sz > uint32(len(f.data)) {
		return nil, fmt.Errorf("%w: out of bounds read %d+%d, len %d, name %s", ErrMalformedIndex, off, sz, len(f.data), f.name)
	}
	return f.data[off : off+sz], nil
}

func (f *mmapedIndexFile) Name() string {
	return f.name
}

func (f *mmapedIndexFile) Size() (uint32, error) {
	return f.size, nil
}

func (f *mmapedIndexFile) Close() {
	if err := f.data.Unmap(); err != nil {
		log.Printf("WARN failed to memory unmap %s: %v", f.name, err)
	}
}

// madviseRandom hints to the kernel that the mapping will be accessed
// with no locality (suffix-array probes jump all over the file), so
// readahead is wasted work. Best-effort: a failure here never prevents
// serving queries.
func madviseRandom(data []byte) {
	if len(data) == 0 {
		return
	}
	if err := unix.Madvise(data, unix.MADV_RANDOM); err != nil {
		log.Printf("WARN madvise(MADV_RANDOM) failed: %v", err)
	}
}

// DropCaches advises the kernel to evict this mapping's pages from the
// page cache, for callers rotating out an index file they know they
// will not query again soon.
func (f *mmapedIndexFile) DropCaches() {
	if err := unix.Madvise(f.data, unix.MADV_DONTNEED); err != nil {
		log.Printf("WARN madvise(MADV_DONTNEED) failed: %v", err)
	}
}

func bufferSize(f *mmapedIndexFile) int {
	// On Unix/Linux, mmap likes to allocate memory in
	// page-sized chunks, so round up to the OS page size.
	// mmap will zero-fill the extra bytes.
	// On Windows, the Windows API CreateFileMapping method
	// requires a buffer the same size as the file.
	bsize := int(f.size)
	if runtime.GOOS != "windows" {
		pagesize := os.Getpagesize() - 1
		bsize = (bsize + pagesize) &^ pagesize
	}
	return bsize
}

const maxUInt32 = 1 << 32

// openMappedFile mmaps f read-only and takes ownership of it (f is
// closed once the mapping is established; the mapping itself outlives
// the call).
func openMappedFile(f *os.File) (*mmapedIndexFile, error) {
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	sz := fi.Size()
	if sz >= maxUInt32 {
		return nil, fmt.Errorf("%w: file %s too large: %d", ErrMalformedIndex, f.Name(), sz)
	}
	r := &mmapedIndexFile{
		name: f.Name(),
		size: uint32(sz),
	}

	r.data, err = mmap.MapRegion(f, bufferSize(r), mmap.RDONLY, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to memory map %s: %s", ErrMalformedIndex, f.Name(), err)
	}
	madviseRandom(r.data)

	return r, nil
}
