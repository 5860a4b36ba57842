package model

import (
	"encoding/binary"
	"fmt"
)

// Wire sizes for the fixed binary layouts. The acquisition subsystem and the
// companion app both depend on these staying put.
const (
	SampleSize = 20
	RecordSize = 10
)

// Sample is one raw multi-sensor observation, packed exactly as the
// acquisition MCU emits it:
//
//	[HR u16][Temp i16 x100][ax ay az i16 mg][gx gy gz i16 deci-dps][ts u32 ms]
//
// all little-endian. HR of 0 means "no reading yet".
type Sample struct {
	HR        uint16 // instantaneous heart rate, BPM
	Temp      int16  // temperature, hundredths of a degree
	AX        int16  // accel X, milli-g
	AY        int16  // accel Y, milli-g
	AZ        int16  // accel Z, milli-g
	GX        int16  // gyro X, deci-deg/s
	GY        int16  // gyro Y, deci-deg/s
	GZ        int16  // gyro Z, deci-deg/s
	Timestamp uint32 // milliseconds, node clock domain
}

// AppendBinary appends the 20-byte wire form of s to dst.
func (s Sample) AppendBinary(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, s.HR)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(s.Temp))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(s.AX))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(s.AY))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(s.AZ))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(s.GX))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(s.GY))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(s.GZ))
	dst = binary.LittleEndian.AppendUint32(dst, s.Timestamp)
	return dst
}

// MarshalBinary returns the 20-byte wire form of s.
func (s Sample) MarshalBinary() []byte {
	return s.AppendBinary(make([]byte, 0, SampleSize))
}

// UnmarshalSample decodes one sample from the first 20 bytes of data.
func UnmarshalSample(data []byte) (Sample, error) {
	if len(data) < SampleSize {
		return Sample{}, fmt.Errorf("sample needs %d bytes, got %d", SampleSize, len(data))
	}
	return Sample{
		HR:        binary.LittleEndian.Uint16(data[0:2]),
		Temp:      int16(binary.LittleEndian.Uint16(data[2:4])),
		AX:        int16(binary.LittleEndian.Uint16(data[4:6])),
		AY:        int16(binary.LittleEndian.Uint16(data[6:8])),
		AZ:        int16(binary.LittleEndian.Uint16(data[8:10])),
		GX:        int16(binary.LittleEndian.Uint16(data[10:12])),
		GY:        int16(binary.LittleEndian.Uint16(data[12:14])),
		GZ:        int16(binary.LittleEndian.Uint16(data[14:16])),
		Timestamp: binary.LittleEndian.Uint32(data[16:20]),
	}, nil
}

// ConsolidatedRecord is the fixed-width output of one consolidation window.
// Wire form is 10 bytes little-endian: [avg_hr_x10 u16][avg_temp_x100 i16]
// [step_count u16][timestamp u32].
type ConsolidatedRecord struct {
	AvgHRx10    uint16 // average heart rate * 10, saturated
	AvgTempx100 int16  // average temperature * 100, saturated
	StepCount   uint16 // steps detected in the window
	Timestamp   uint32 // timestamp of the window's last sample
}

// AppendBinary appends the 10-byte wire form of r to dst.
func (r ConsolidatedRecord) AppendBinary(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, r.AvgHRx10)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(r.AvgTempx100))
	dst = binary.LittleEndian.AppendUint16(dst, r.StepCount)
	dst = binary.LittleEndian.AppendUint32(dst, r.Timestamp)
	return dst
}

// MarshalBinary returns the 10-byte wire form of r.
func (r ConsolidatedRecord) MarshalBinary() []byte {
	return r.AppendBinary(make([]byte, 0, RecordSize))
}

// UnmarshalRecord decodes one record from the first 10 bytes of data.
func UnmarshalRecord(data []byte) (ConsolidatedRecord, error) {
	if len(data) < RecordSize {
		return ConsolidatedRecord{}, fmt.Errorf("record needs %d bytes, got %d", RecordSize, len(data))
	}
	return ConsolidatedRecord{
		AvgHRx10:    binary.LittleEndian.Uint16(data[0:2]),
		AvgTempx100: int16(binary.LittleEndian.Uint16(data[2:4])),
		StepCount:   binary.LittleEndian.Uint16(data[4:6]),
		Timestamp:   binary.LittleEndian.Uint32(data[6:10]),
	}, nil
}
