package bridge

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// ReaderProvider pulls bytes from any io.Reader.
type ReaderProvider struct {
	r io.Reader
}

// NewReaderProvider wraps r as a DataProvider.
func NewReaderProvider(r io.Reader) *ReaderProvider {
	return &ReaderProvider{r: r}
}

// Fill reads once from the underlying reader.
func (p *ReaderProvider) Fill(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if err == io.EOF {
		return n, nil
	}
	return n, err
}

// NewBytesProvider serves an in-memory blob.
func NewBytesProvider(data []byte) *ReaderProvider {
	return NewReaderProvider(bytes.NewReader(data))
}

// NewSectionProvider serves the n bytes starting at off inside ra. It is used
// for JPEG streams embedded in another file format.
func NewSectionProvider(ra io.ReaderAt, off, n int64) *ReaderProvider {
	return NewReaderProvider(io.NewSectionReader(ra, off, n))
}

// FileProvider reads a JPEG stream from a file on disk.
type FileProvider struct {
	ReaderProvider
	f *os.File
}

// OpenFileProvider opens path for reading.
func OpenFileProvider(path string) (*FileProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	return &FileProvider{ReaderProvider: ReaderProvider{r: f}, f: f}, nil
}

// Seeker exposes the underlying file for callers that need random access,
// such as a metadata scan before decoding.
func (p *FileProvider) Seeker() io.ReadSeeker {
	return p.f
}

// Close closes the file.
func (p *FileProvider) Close() error {
	return p.f.Close()
}

// WriterReceiver pushes bytes into any io.Writer.
type WriterReceiver struct {
	w io.Writer
}

// NewWriterReceiver wraps w as a DataReceiver.
func NewWriterReceiver(w io.Writer) *WriterReceiver {
	return &WriterReceiver{w: w}
}

// Drain writes buf to the underlying writer.
func (r *WriterReceiver) Drain(buf []byte) (int, error) {
	return r.w.Write(buf)
}

// BufferReceiver collects the encoded stream in memory.
type BufferReceiver struct {
	buf bytes.Buffer
}

// Drain appends buf.
func (r *BufferReceiver) Drain(buf []byte) (int, error) {
	return r.buf.Write(buf)
}

// Bytes returns everything drained so far.
func (r *BufferReceiver) Bytes() []byte {
	return r.buf.Bytes()
}

// Len returns the number of bytes drained so far.
func (r *BufferReceiver) Len() int {
	return r.buf.Len()
}

// FileReceiver writes the encoded stream to a file.
type FileReceiver struct {
	WriterReceiver
	f *os.File
}

// CreateFileReceiver creates or truncates path.
func CreateFileReceiver(path string) (*FileReceiver, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create sink: %w", err)
	}
	return &FileReceiver{WriterReceiver: WriterReceiver{w: f}, f: f}, nil
}

// Close closes the file.
func (r *FileReceiver) Close() error {
	return r.f.Close()
}
