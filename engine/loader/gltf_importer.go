package loader

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/calyx3d/calyx/common"
	"github.com/calyx3d/calyx/engine/material"
	"github.com/calyx3d/calyx/engine/model"
)

// importGLTF parses one glTF/GLB file into ModelData. Caller holds the mutex.
func (l *loader) importGLTF(path string) (model.ModelData, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return model.ModelData{}, fmt.Errorf("loader: open %q: %w", path, err)
	}

	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	materialIDs := l.registerMaterials(doc, id, filepath.Dir(path))

	// A skin on any node makes the whole model skinned; the first skin wins.
	skin := firstSkin(doc)

	meshes, err := l.extractMeshes(doc, materialIDs, skin != nil)
	if err != nil {
		return model.ModelData{}, fmt.Errorf("loader: %q: %w", path, err)
	}

	var animations []model.AnimationData
	if skin != nil && len(doc.Animations) > 0 {
		animations, err = l.sampleAnimations(doc, skin)
		if err != nil {
			return model.ModelData{}, fmt.Errorf("loader: %q: %w", path, err)
		}
	}

	return model.ModelData{ID: id, Meshes: meshes, Animations: animations}, nil
}

// registerMaterials registers every material of the document into the
// material store and returns the store identifier per glTF material index.
// Texture paths are interned; embedded images get synthesized names so the
// texture table still assigns them stable indices.
func (l *loader) registerMaterials(doc *gltf.Document, modelID, dir string) []string {
	texturePaths := make([]string, len(doc.Textures))
	for i, tex := range doc.Textures {
		if tex.Source == nil || int(*tex.Source) >= len(doc.Images) {
			continue
		}
		img := doc.Images[*tex.Source]
		switch {
		case img.URI != "" && !img.IsEmbeddedResource():
			texturePaths[i] = filepath.Join(dir, img.URI)
		default:
			name := common.Coalesce(img.Name, fmt.Sprintf("image_%d", *tex.Source))
			texturePaths[i] = modelID + "#" + name
		}
		l.materials.RegisterTexture(texturePaths[i])
	}

	textureAt := func(index int) string {
		if index < 0 || index >= len(texturePaths) {
			return ""
		}
		return texturePaths[index]
	}

	ids := make([]string, len(doc.Materials))
	for i, gm := range doc.Materials {
		name := common.Coalesce(gm.Name, fmt.Sprintf("material_%d", i))
		mat := material.Material{
			ID:              modelID + "#" + name,
			DiffuseColor:    [4]float32{1, 1, 1, 1},
			RoughnessFactor: 1,
		}
		if pbr := gm.PBRMetallicRoughness; pbr != nil {
			cf := pbr.BaseColorFactorOrDefault()
			mat.DiffuseColor = [4]float32{
				float32(cf[0]), float32(cf[1]), float32(cf[2]), float32(cf[3]),
			}
			mat.RoughnessFactor = float32(pbr.RoughnessFactorOrDefault())
			mat.MetallicFactor = float32(pbr.MetallicFactorOrDefault())
			if pbr.BaseColorTexture != nil {
				mat.Texture = textureAt(int(pbr.BaseColorTexture.Index))
			}
			if pbr.MetallicRoughnessTexture != nil {
				mat.MetalRoughMap = textureAt(int(pbr.MetallicRoughnessTexture.Index))
			}
		}
		if gm.NormalTexture != nil && gm.NormalTexture.Index != nil {
			mat.NormalMap = textureAt(int(*gm.NormalTexture.Index))
		}
		l.materials.Register(mat)
		ids[i] = mat.ID
	}
	return ids
}

// extractMeshes decodes every mesh primitive into MeshData. Primitives are
// independent, so each decode runs as one pool task; results land in a
// pre-sized slice so the output order matches document order.
func (l *loader) extractMeshes(doc *gltf.Document, materialIDs []string, skinned bool) ([]model.MeshData, error) {
	type primRef struct {
		mesh *gltf.Mesh
		prim *gltf.Primitive
	}
	var prims []primRef
	for _, gm := range doc.Meshes {
		for _, prim := range gm.Primitives {
			prims = append(prims, primRef{mesh: gm, prim: prim})
		}
	}
	if len(prims) == 0 {
		return nil, fmt.Errorf("no mesh primitives")
	}

	meshes := make([]model.MeshData, len(prims))
	errs := make([]error, len(prims))
	var wg sync.WaitGroup
	for i, ref := range prims {
		wg.Add(1)
		index := i
		prim := ref.prim
		l.pool.SubmitTask(worker.Task{
			ID: index,
			Do: func() (any, error) {
				defer wg.Done()
				meshes[index], errs[index] = decodePrimitive(doc, prim, materialIDs, skinned)
				return nil, nil
			},
		})
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("primitive %d: %w", i, err)
		}
	}
	return meshes, nil
}

// decodePrimitive reads one primitive's vertex attributes and indices.
func decodePrimitive(doc *gltf.Document, prim *gltf.Primitive, materialIDs []string, skinned bool) (model.MeshData, error) {
	posIdx, ok := prim.Attributes[gltf.POSITION]
	if !ok {
		return model.MeshData{}, fmt.Errorf("no POSITION attribute")
	}
	positions, err := modeler.ReadPosition(doc, doc.Accessors[posIdx], nil)
	if err != nil {
		return model.MeshData{}, fmt.Errorf("positions: %w", err)
	}

	var normals [][3]float32
	var uvs [][2]float32
	var colors [][4]uint8
	var tangents [][4]float32
	if idx, ok := prim.Attributes[gltf.NORMAL]; ok {
		normals, _ = modeler.ReadNormal(doc, doc.Accessors[idx], nil)
	}
	if idx, ok := prim.Attributes[gltf.TEXCOORD_0]; ok {
		uvs, _ = modeler.ReadTextureCoord(doc, doc.Accessors[idx], nil)
	}
	if idx, ok := prim.Attributes[gltf.COLOR_0]; ok {
		colors, _ = modeler.ReadColor(doc, doc.Accessors[idx], nil)
	}
	if idx, ok := prim.Attributes[gltf.TANGENT]; ok {
		tangents, _ = modeler.ReadTangent(doc, doc.Accessors[idx], nil)
	}

	vertices := make([]model.GPUVertex, len(positions))
	for i, p := range positions {
		v := model.GPUVertex{
			Position: p,
			Normal:   [3]float32{0, 1, 0},
			Color:    [4]float32{1, 1, 1, 1},
		}
		if i < len(normals) {
			v.Normal = normals[i]
		}
		if i < len(uvs) {
			v.TexCoord = uvs[i]
		}
		if i < len(colors) {
			c := colors[i]
			v.Color = [4]float32{
				float32(c[0]) / 255, float32(c[1]) / 255,
				float32(c[2]) / 255, float32(c[3]) / 255,
			}
		}
		if i < len(tangents) {
			v.Tangent = tangents[i]
		}
		vertices[i] = v
	}

	var indices []uint32
	if prim.Indices != nil {
		indices, err = modeler.ReadIndices(doc, doc.Accessors[*prim.Indices], nil)
		if err != nil {
			return model.MeshData{}, fmt.Errorf("indices: %w", err)
		}
	} else {
		// Non-indexed geometry still goes through the shared index buffer.
		indices = make([]uint32, len(vertices))
		for i := range indices {
			indices[i] = uint32(i)
		}
	}

	data := model.MeshData{Vertices: vertices, Indices: indices, MaterialID: material.DefaultID}
	if prim.Material != nil && int(*prim.Material) < len(materialIDs) {
		data.MaterialID = materialIDs[*prim.Material]
	}

	if skinned {
		data.Weights, err = readWeights(doc, prim, len(vertices))
		if err != nil {
			return model.MeshData{}, err
		}
	}
	return data, nil
}

// readWeights reads JOINTS_0/WEIGHTS_0 for a primitive of a skinned model.
// Primitives without skinning attributes are pinned to joint zero so they
// still pass through the skinning dispatch.
func readWeights(doc *gltf.Document, prim *gltf.Primitive, vertexCount int) ([]model.GPUVertexWeights, error) {
	weights := make([]model.GPUVertexWeights, vertexCount)
	jointsIdx, hasJoints := prim.Attributes[gltf.JOINTS_0]
	weightsIdx, hasWeights := prim.Attributes[gltf.WEIGHTS_0]
	if !hasJoints || !hasWeights {
		for i := range weights {
			weights[i].JointWeights[0] = 1
		}
		return weights, nil
	}

	joints, err := modeler.ReadJoints(doc, doc.Accessors[jointsIdx], nil)
	if err != nil {
		return nil, fmt.Errorf("joints: %w", err)
	}
	blend, err := modeler.ReadWeights(doc, doc.Accessors[weightsIdx], nil)
	if err != nil {
		return nil, fmt.Errorf("weights: %w", err)
	}
	for i := range weights {
		if i < len(joints) {
			j := joints[i]
			weights[i].JointIndices = [4]uint32{
				uint32(j[0]), uint32(j[1]), uint32(j[2]), uint32(j[3]),
			}
		}
		if i < len(blend) {
			weights[i].JointWeights = blend[i]
		}
	}
	return weights, nil
}

// firstSkin returns the document's first skin, or nil for static models.
func firstSkin(doc *gltf.Document) *gltf.Skin {
	if len(doc.Skins) == 0 {
		return nil
	}
	return doc.Skins[0]
}
