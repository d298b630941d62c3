package loader

import (
	"fmt"
	"log/slog"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/calyx3d/calyx/common"
	"github.com/calyx3d/calyx/engine/model"
)

// channelTrack is the keyframe data of one (node, path) animation channel.
type channelTrack struct {
	times  []float32
	vec3   [][3]float32
	quat   [][4]float32
	interp gltf.Interpolation
}

// sampleAnimations bakes every animation clip of the document into per-frame
// joint matrices at the loader's sample rate. Frames[f][j] already includes
// the joint's inverse bind transform, so the skinning shader applies the
// matrix directly.
func (l *loader) sampleAnimations(doc *gltf.Document, skin *gltf.Skin) ([]model.AnimationData, error) {
	inverseBind, err := readInverseBindMatrices(doc, skin)
	if err != nil {
		return nil, err
	}

	parents := make([]int, len(doc.Nodes))
	for i := range parents {
		parents[i] = -1
	}
	for ni, node := range doc.Nodes {
		for _, child := range node.Children {
			parents[child] = ni
		}
	}

	frameMillis := 1000 / l.sampleRate
	animations := make([]model.AnimationData, 0, len(doc.Animations))
	for ai, anim := range doc.Animations {
		tracks, duration, err := readTracks(doc, anim)
		if err != nil {
			return nil, fmt.Errorf("animation %d: %w", ai, err)
		}

		frameCount := int(duration*l.sampleRate) + 1
		name := common.Coalesce(anim.Name, fmt.Sprintf("animation_%d", ai))

		frames := make([][]mgl32.Mat4, frameCount)
		locals := make([]mgl32.Mat4, len(doc.Nodes))
		globals := make([]mgl32.Mat4, len(doc.Nodes))
		resolved := make([]bool, len(doc.Nodes))
		for f := 0; f < frameCount; f++ {
			t := float32(f) / l.sampleRate
			for ni, node := range doc.Nodes {
				locals[ni] = localMatrix(node, tracks[ni], t)
			}
			for i := range resolved {
				resolved[i] = false
			}
			var globalOf func(ni int) mgl32.Mat4
			globalOf = func(ni int) mgl32.Mat4 {
				if resolved[ni] {
					return globals[ni]
				}
				m := locals[ni]
				if p := parents[ni]; p >= 0 {
					m = globalOf(p).Mul4(m)
				}
				globals[ni] = m
				resolved[ni] = true
				return m
			}

			joints := make([]mgl32.Mat4, len(skin.Joints))
			for j, nodeIndex := range skin.Joints {
				joints[j] = globalOf(int(nodeIndex)).Mul4(inverseBind[j])
			}
			frames[f] = joints
		}

		animations = append(animations, model.AnimationData{
			Name:        name,
			FrameMillis: frameMillis,
			Frames:      frames,
		})
		slog.Debug("loader: sampled animation",
			"name", name, "frames", frameCount, "joints", len(skin.Joints))
	}
	return animations, nil
}

// readInverseBindMatrices reads the skin's inverse bind matrix accessor,
// falling back to identity when absent.
func readInverseBindMatrices(doc *gltf.Document, skin *gltf.Skin) ([]mgl32.Mat4, error) {
	out := make([]mgl32.Mat4, len(skin.Joints))
	for i := range out {
		out[i] = mgl32.Ident4()
	}
	if skin.InverseBindMatrices == nil {
		return out, nil
	}
	raw, err := modeler.ReadAccessor(doc, doc.Accessors[*skin.InverseBindMatrices], nil)
	if err != nil {
		return nil, fmt.Errorf("inverse bind matrices: %w", err)
	}
	matrices, ok := raw.([][4][4]float32)
	if !ok {
		return nil, fmt.Errorf("inverse bind matrices: unexpected accessor type %T", raw)
	}
	for i := range out {
		if i >= len(matrices) {
			break
		}
		// glTF matrices are column-major, as is mgl32.
		var m mgl32.Mat4
		for col := 0; col < 4; col++ {
			for row := 0; row < 4; row++ {
				m[col*4+row] = matrices[i][col][row]
			}
		}
		out[i] = m
	}
	return out, nil
}

// readTracks reads every channel of one animation into per-node tracks and
// returns the clip duration in seconds.
func readTracks(doc *gltf.Document, anim *gltf.Animation) (map[int]map[gltf.TRSProperty]*channelTrack, float32, error) {
	tracks := make(map[int]map[gltf.TRSProperty]*channelTrack)
	var duration float32
	for ci, ch := range anim.Channels {
		if ch.Target.Node == nil {
			continue
		}
		if ch.Target.Path == gltf.TRSWeights {
			// Morph targets are not represented in the joint matrix stream.
			continue
		}
		sampler := anim.Samplers[ch.Sampler]

		times, err := readScalars(doc, sampler.Input)
		if err != nil {
			return nil, 0, fmt.Errorf("channel %d timestamps: %w", ci, err)
		}
		if len(times) == 0 {
			continue
		}
		if last := times[len(times)-1]; last > duration {
			duration = last
		}

		track := &channelTrack{times: times, interp: sampler.Interpolation}
		raw, err := modeler.ReadAccessor(doc, doc.Accessors[sampler.Output], nil)
		if err != nil {
			return nil, 0, fmt.Errorf("channel %d values: %w", ci, err)
		}
		switch values := raw.(type) {
		case [][3]float32:
			track.vec3 = values
		case [][4]float32:
			track.quat = values
		default:
			return nil, 0, fmt.Errorf("channel %d: unexpected accessor type %T", ci, raw)
		}

		node := int(*ch.Target.Node)
		if tracks[node] == nil {
			tracks[node] = make(map[gltf.TRSProperty]*channelTrack)
		}
		tracks[node][ch.Target.Path] = track
	}
	return tracks, duration, nil
}

// localMatrix computes a node's local transform at time t, taking animated
// components from its tracks and the rest from the node's static TRS.
func localMatrix(node *gltf.Node, nodeTracks map[gltf.TRSProperty]*channelTrack, t float32) mgl32.Mat4 {
	if nodeTracks == nil {
		if m := node.MatrixOrDefault(); m != gltf.DefaultMatrix {
			var out mgl32.Mat4
			for i := range m {
				out[i] = float32(m[i])
			}
			return out
		}
	}

	tr := node.TranslationOrDefault()
	translation := mgl32.Vec3{float32(tr[0]), float32(tr[1]), float32(tr[2])}
	ro := node.RotationOrDefault()
	rotation := mgl32.Quat{
		W: float32(ro[3]),
		V: mgl32.Vec3{float32(ro[0]), float32(ro[1]), float32(ro[2])},
	}
	sc := node.ScaleOrDefault()
	scale := mgl32.Vec3{float32(sc[0]), float32(sc[1]), float32(sc[2])}

	if track, ok := nodeTracks[gltf.TRSTranslation]; ok {
		translation = track.sampleVec3(t)
	}
	if track, ok := nodeTracks[gltf.TRSRotation]; ok {
		rotation = track.sampleQuat(t)
	}
	if track, ok := nodeTracks[gltf.TRSScale]; ok {
		scale = track.sampleVec3(t)
	}

	return mgl32.Translate3D(translation.X(), translation.Y(), translation.Z()).
		Mul4(rotation.Normalize().Mat4()).
		Mul4(mgl32.Scale3D(scale.X(), scale.Y(), scale.Z()))
}

// keyframeSpan locates the keyframe interval containing t and the
// interpolation factor within it, clamping outside the clip.
func (c *channelTrack) keyframeSpan(t float32) (int, int, float32) {
	times := c.times
	if t <= times[0] {
		return 0, 0, 0
	}
	last := len(times) - 1
	if t >= times[last] {
		return last, last, 0
	}
	hi := 1
	for times[hi] < t {
		hi++
	}
	lo := hi - 1
	span := times[hi] - times[lo]
	if span <= 0 {
		return lo, hi, 0
	}
	factor := (t - times[lo]) / span
	if c.interp == gltf.InterpolationStep {
		factor = 0
	}
	return lo, hi, factor
}

// valueIndex maps a keyframe index into the output value stream. Cubic
// spline outputs store in-tangent, value, out-tangent triples; the value is
// taken and the tangents are ignored.
func (c *channelTrack) valueIndex(keyframe int) int {
	if c.interp == gltf.InterpolationCubicSpline {
		return keyframe*3 + 1
	}
	return keyframe
}

func (c *channelTrack) sampleVec3(t float32) mgl32.Vec3 {
	lo, hi, factor := c.keyframeSpan(t)
	a := c.vec3[c.valueIndex(lo)]
	b := c.vec3[c.valueIndex(hi)]
	return mgl32.Vec3{
		a[0] + (b[0]-a[0])*factor,
		a[1] + (b[1]-a[1])*factor,
		a[2] + (b[2]-a[2])*factor,
	}
}

func (c *channelTrack) sampleQuat(t float32) mgl32.Quat {
	lo, hi, factor := c.keyframeSpan(t)
	a := quatOf(c.quat[c.valueIndex(lo)])
	b := quatOf(c.quat[c.valueIndex(hi)])
	// Negate for the shortest arc before interpolating.
	if a.Dot(b) < 0 {
		b = mgl32.Quat{W: -b.W, V: mgl32.Vec3{-b.V.X(), -b.V.Y(), -b.V.Z()}}
	}
	return mgl32.QuatNlerp(a, b, factor)
}

func quatOf(v [4]float32) mgl32.Quat {
	return mgl32.Quat{W: v[3], V: mgl32.Vec3{v[0], v[1], v[2]}}
}

// readScalars reads a float scalar accessor (animation timestamps).
func readScalars(doc *gltf.Document, accessor int) ([]float32, error) {
	raw, err := modeler.ReadAccessor(doc, doc.Accessors[accessor], nil)
	if err != nil {
		return nil, err
	}
	values, ok := raw.([]float32)
	if !ok {
		return nil, fmt.Errorf("unexpected accessor type %T", raw)
	}
	return values, nil
}
