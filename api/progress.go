package api

import "io"

// progressReader wraps an upload body and reports the fraction read to
// a callback. The final callback always reports 1.0 exactly.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	callback func(float64)
}

func newProgressReader(r io.Reader, total int64, callback func(float64)) *progressReader {
	return &progressReader{r: r, total: total, callback: callback}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)
		if p.total > 0 {
			frac := float64(p.read) / float64(p.total)
			if frac > 1 {
				frac = 1
			}
			p.callback(frac)
		}
	}
	if err == io.EOF && p.total > 0 && p.read < p.total {
		p.callback(1)
	}
	return n, err
}
