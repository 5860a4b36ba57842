package ingest

import (
	"bytes"
	"fmt"

	"wristnode/internal/model"
)

// Acquisition page layout: a 16-byte header (4-byte magic, 1-byte sequence,
// 11 reserved) followed by 12 packed samples, 256 bytes total.
const (
	PageSize       = 256
	PageHeaderSize = 16
	SamplesPerPage = 12
)

var pageMagic = []byte{'H', 'P', 'K', '1'}

// Page is one decoded acquisition page.
type Page struct {
	Seq     uint8
	Samples []model.Sample
}

// DecodePage validates the header and unpacks all samples from one raw page.
func DecodePage(data []byte) (Page, error) {
	if len(data) != PageSize {
		return Page{}, fmt.Errorf("page must be %d bytes, got %d", PageSize, len(data))
	}
	if !bytes.Equal(data[:len(pageMagic)], pageMagic) {
		return Page{}, fmt.Errorf("bad page magic %q", data[:len(pageMagic)])
	}

	page := Page{
		Seq:     data[len(pageMagic)],
		Samples: make([]model.Sample, 0, SamplesPerPage),
	}
	for i := 0; i < SamplesPerPage; i++ {
		offset := PageHeaderSize + i*model.SampleSize
		s, err := model.UnmarshalSample(data[offset : offset+model.SampleSize])
		if err != nil {
			return Page{}, fmt.Errorf("sample %d: %w", i, err)
		}
		page.Samples = append(page.Samples, s)
	}
	return page, nil
}

// EncodePage packs up to SamplesPerPage samples into a raw page. Unused
// slots stay zero. Used by the synthetic sampler and by tests.
func EncodePage(seq uint8, samples []model.Sample) ([]byte, error) {
	if len(samples) > SamplesPerPage {
		return nil, fmt.Errorf("at most %d samples per page, got %d", SamplesPerPage, len(samples))
	}
	page := make([]byte, PageSize)
	copy(page, pageMagic)
	page[len(pageMagic)] = seq
	for i, s := range samples {
		offset := PageHeaderSize + i*model.SampleSize
		copy(page[offset:], s.MarshalBinary())
	}
	return page, nil
}
