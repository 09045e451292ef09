package tracking

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Tracker packet layout. Each UDP datagram carries one or more face records
// of FaceRecordSize bytes, little-endian.
const (
	packetPoints      = 68 // 2D points and confidences per face
	packetPoints3D    = 70 // 3D points per face
	packetFeatures    = 14 // derived expression features, ignored here
	maxFacesPerPacket = 64

	// FaceRecordSize is the encoded size of one face record in bytes.
	FaceRecordSize = 8 + 4 + 2*4 + 2*4 + 1 + 4 + 4*4 + 3*4 + 3*4 + 4*packetPoints + 4*2*packetPoints + 4*3*packetPoints3D + 4*packetFeatures
)

// ErrShortPacket is returned when a datagram is not a whole number of face records.
var ErrShortPacket = errors.New("tracking packet is not a multiple of the face record size")

// ParsePacket decodes every face record in a tracker datagram.
func ParsePacket(packet []byte) ([]Frame, error) {
	if len(packet) == 0 || len(packet)%FaceRecordSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(packet))
	}
	n := len(packet) / FaceRecordSize
	if n > maxFacesPerPacket {
		return nil, fmt.Errorf("tracking packet holds %d faces (max %d)", n, maxFacesPerPacket)
	}

	frames := make([]Frame, n)
	for i := 0; i < n; i++ {
		frames[i] = parseFaceRecord(packet[i*FaceRecordSize : (i+1)*FaceRecordSize])
	}
	return frames, nil
}

type recordReader struct {
	b   []byte
	off int
}

func (r *recordReader) f32() float64 {
	v := math.Float32frombits(binary.LittleEndian.Uint32(r.b[r.off:]))
	r.off += 4
	return float64(v)
}

func (r *recordReader) vec3() Vec3 {
	return Vec3{X: r.f32(), Y: r.f32(), Z: r.f32()}
}

func parseFaceRecord(b []byte) Frame {
	r := &recordReader{b: b}
	var f Frame

	f.Timestamp = math.Float64frombits(binary.LittleEndian.Uint64(b[0:]))
	f.FaceID = int(int32(binary.LittleEndian.Uint32(b[8:])))
	r.off = 12

	f.Width = r.f32()
	f.Height = r.f32()
	f.EyeRight = r.f32()
	f.EyeLeft = r.f32()

	f.Got3D = b[r.off] != 0
	r.off++
	f.FitError = r.f32()

	f.Rotation = Quaternion{X: r.f32(), Y: r.f32(), Z: r.f32(), W: r.f32()}
	f.Euler = r.vec3()
	f.Translation = r.vec3()

	// Confidences and 2D image points are not used for expression features.
	r.off += 4*packetPoints + 4*2*packetPoints

	for i := 0; i < packetPoints3D; i++ {
		p := r.vec3()
		if i < LandmarkCount {
			f.Points3D[i] = p
		}
	}
	return f
}

// AppendFaceRecord encodes f in the tracker wire layout. Fields the frame does
// not carry (confidences, 2D points, extra 3D points, features) are zero.
func AppendFaceRecord(dst []byte, f Frame) []byte {
	rec := make([]byte, FaceRecordSize)
	binary.LittleEndian.PutUint64(rec[0:], math.Float64bits(f.Timestamp))
	binary.LittleEndian.PutUint32(rec[8:], uint32(int32(f.FaceID)))
	off := 12
	put := func(v float64) {
		binary.LittleEndian.PutUint32(rec[off:], math.Float32bits(float32(v)))
		off += 4
	}
	put(f.Width)
	put(f.Height)
	put(f.EyeRight)
	put(f.EyeLeft)
	if f.Got3D {
		rec[off] = 1
	}
	off++
	put(f.FitError)
	put(f.Rotation.X)
	put(f.Rotation.Y)
	put(f.Rotation.Z)
	put(f.Rotation.W)
	put(f.Euler.X)
	put(f.Euler.Y)
	put(f.Euler.Z)
	put(f.Translation.X)
	put(f.Translation.Y)
	put(f.Translation.Z)
	off += 4*packetPoints + 4*2*packetPoints
	for _, p := range f.Points3D {
		put(p.X)
		put(p.Y)
		put(p.Z)
	}
	return append(dst, rec...)
}
