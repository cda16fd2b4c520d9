package progress

import "io"

// Reader wraps an io.Reader and reports percent progress via a callback.
// Reports fire when a whole percent boundary is crossed, so a slow consumer
// sees at most 100 callbacks per download.
type Reader struct {
	reader      io.Reader
	total       int64
	onProgress  func(percent float64)
	totalRead   int64
	lastPercent int64
}

func NewReader(r io.Reader, total int64, cb func(percent float64)) *Reader {
	return &Reader{
		reader:      r,
		total:       total,
		onProgress:  cb,
		lastPercent: -1,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 && pr.total > 0 && pr.onProgress != nil {
		pr.totalRead += int64(n)

		percent := pr.totalRead * 100 / pr.total
		if percent > 100 {
			percent = 100
		}

		if percent > pr.lastPercent {
			pr.lastPercent = percent
			pr.onProgress(float64(percent))
		}
	} else if n > 0 {
		pr.totalRead += int64(n)
	}

	return n, err
}

// BytesRead returns the cumulative number of bytes read so far.
func (pr *Reader) BytesRead() int64 {
	return pr.totalRead
}
