package store

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	raven "github.com/getsentry/raven-go"
)

// S3 keeps distribution files in an AWS S3 bucket. Prefix is prepended to
// every key so one bucket can hold more than one store. Do not change
// Bucket or Prefix concurrently with calls using the structure.
//
// Distribution files are small compared with S3's limits, so uploads are
// buffered in memory and sent with a single PutObject on Close.
type S3 struct {
	svc    *s3.S3
	Bucket string
	Prefix string
}

var _ Store = &S3{}

// NewS3 creates an S3 store using the given bucket and key prefix. The
// credentials in the session are used for all accesses.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	return &S3{
		Bucket: bucket,
		Prefix: prefix,
		svc:    s3.New(awsSession),
	}
}

// List returns every key under the store's prefix.
func (s *S3) List() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(s.Bucket),
			Prefix: aws.String(s.Prefix),
		}
		err := s.svc.ListObjectsV2Pages(input,
			func(page *s3.ListObjectsV2Output, lastpage bool) bool {
				for _, item := range page.Contents {
					out <- strings.TrimPrefix(*item.Key, s.Prefix)
				}
				return !lastpage
			})
		if err != nil {
			log.Println("S3 List:", s.Prefix, err)
			raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix})
		}
	}()
	return out
}

// Open returns a reader for the given key. Reads are translated into
// ranged GET requests.
func (s *S3) Open(key string) (ReadAtCloser, int64, error) {
	size, err := s.stat(key)
	if err != nil {
		return nil, 0, err
	}
	return &s3ReadAtCloser{
		svc:    s.svc,
		bucket: s.Bucket,
		key:    s.Prefix + key,
		size:   size,
	}, size, nil
}

// Create returns a writer which uploads the value for key on Close.
func (s *S3) Create(key string) (io.WriteCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if _, err := s.stat(key); err == nil {
		return nil, ErrKeyExists
	}
	return &s3WriteCloser{
		svc:    s.svc,
		bucket: s.Bucket,
		key:    s.Prefix + key,
	}, nil
}

// Delete removes the given key. It is not an error to delete a key which
// does not exist.
func (s *S3) Delete(key string) error {
	_, err := s.svc.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		log.Println("S3 Delete:", s.Prefix, key, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix, "Key": key})
	}
	return err
}

// stat HEADs the key and returns its size, or ErrNotExist.
func (s *S3) stat(key string) (int64, error) {
	info, err := s.svc.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		if e, ok := err.(awserr.RequestFailure); ok && e.StatusCode() == http.StatusNotFound {
			return 0, ErrNotExist
		}
		return 0, err
	}
	return *info.ContentLength, nil
}

// s3ReadAtCloser adapts ranged GETs to the io.ReaderAt interface. It is not
// safe for use from more than one goroutine.
type s3ReadAtCloser struct {
	svc    *s3.S3
	bucket string
	key    string
	size   int64
}

func (rac *s3ReadAtCloser) ReadAt(p []byte, off int64) (int, error) {
	if off >= rac.size {
		return 0, io.EOF
	}
	end := off + int64(len(p))
	if end > rac.size {
		end = rac.size
	}
	output, err := rac.svc.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(rac.bucket),
		Key:    aws.String(rac.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end-1)),
	})
	if err != nil {
		log.Println("S3 ReadAt:", rac.key, off, err)
		if e, ok := err.(awserr.RequestFailure); ok && e.StatusCode() == http.StatusRequestedRangeNotSatisfiable {
			err = io.EOF
		}
		return 0, err
	}
	defer output.Body.Close()
	n, err := io.ReadFull(output.Body, p[:end-off])
	if err == io.ErrUnexpectedEOF {
		err = nil
	}
	if err == nil && end == rac.size && n == int(end-off) && int64(n) < int64(len(p)) {
		err = io.EOF
	}
	return n, err
}

func (rac *s3ReadAtCloser) Close() error { return nil }

// s3WriteCloser buffers writes and does a single PutObject when closed.
type s3WriteCloser struct {
	svc    *s3.S3
	bucket string
	key    string
	buf    bytes.Buffer
}

func (wc *s3WriteCloser) Write(p []byte) (int, error) {
	return wc.buf.Write(p)
}

func (wc *s3WriteCloser) Close() error {
	source := bytes.NewReader(wc.buf.Bytes())
	_, err := wc.svc.PutObject(&s3.PutObjectInput{
		Body:          source,
		Bucket:        aws.String(wc.bucket),
		Key:           aws.String(wc.key),
		ContentLength: aws.Int64(int64(source.Len())),
	})
	if err != nil {
		log.Println("S3 Close:", wc.key, err)
		raven.CaptureError(err, map[string]string{"Bucket": wc.bucket, "Key": wc.key})
	}
	return err
}
