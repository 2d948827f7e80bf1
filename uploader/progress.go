package uploader

import (
	"io"

	"github.com/justapithecus/airlock/ipc"
)

// progressReader reports upload progress on the control channel while the
// transport reads the bundle.
//
// A status is sent when (offset/n)%10 == 0, n being the size of the last
// read, or when the whole file has been read. With constant-size reads
// this is every tenth read plus the final one.
type progressReader struct {
	src    io.Reader
	sender *ipc.Sender
	total  uint64
	offset uint64
}

func newProgressReader(src io.Reader, sender *ipc.Sender, total uint64) *progressReader {
	return &progressReader{src: src, sender: sender, total: total}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.src.Read(buf)
	if n > 0 {
		p.offset += uint64(n)
		if (p.offset/uint64(n))%10 == 0 || p.offset == p.total {
			if sendErr := p.sender.SendUploadStatus(p.offset, p.total); sendErr != nil {
				return n, sendErr
			}
		}
	}
	return n, err
}
