package gpu

/*
#cgo windows LDFLAGS: -lvulkan-1
#cgo linux freebsd LDFLAGS: -lvulkan
#cgo darwin LDFLAGS: -framework MoltenVK

#include <stdlib.h>
#include <string.h>
#include <vulkan/vulkan.h>

// Extension entry points resolved from the logical device. The binding layer
// only ships core commands, so the buffer-device-address and acceleration
// structure calls go through these pointers.
static PFN_vkGetBufferDeviceAddressKHR                calyxGetBufferDeviceAddressFn;
static PFN_vkCreateAccelerationStructureKHR           calyxCreateAccelerationStructureFn;
static PFN_vkDestroyAccelerationStructureKHR          calyxDestroyAccelerationStructureFn;
static PFN_vkGetAccelerationStructureBuildSizesKHR    calyxGetAccelerationStructureBuildSizesFn;
static PFN_vkGetAccelerationStructureDeviceAddressKHR calyxGetAccelerationStructureDeviceAddressFn;
static PFN_vkCmdBuildAccelerationStructuresKHR        calyxCmdBuildAccelerationStructuresFn;

static int calyxLoadAddressProc(VkDevice dev) {
	calyxGetBufferDeviceAddressFn =
		(PFN_vkGetBufferDeviceAddressKHR)vkGetDeviceProcAddr(dev, "vkGetBufferDeviceAddress");
	if (calyxGetBufferDeviceAddressFn == NULL) {
		calyxGetBufferDeviceAddressFn =
			(PFN_vkGetBufferDeviceAddressKHR)vkGetDeviceProcAddr(dev, "vkGetBufferDeviceAddressKHR");
	}
	return calyxGetBufferDeviceAddressFn != NULL;
}

static int calyxLoadAccelProcs(VkDevice dev) {
	calyxCreateAccelerationStructureFn =
		(PFN_vkCreateAccelerationStructureKHR)vkGetDeviceProcAddr(dev, "vkCreateAccelerationStructureKHR");
	calyxDestroyAccelerationStructureFn =
		(PFN_vkDestroyAccelerationStructureKHR)vkGetDeviceProcAddr(dev, "vkDestroyAccelerationStructureKHR");
	calyxGetAccelerationStructureBuildSizesFn =
		(PFN_vkGetAccelerationStructureBuildSizesKHR)vkGetDeviceProcAddr(dev, "vkGetAccelerationStructureBuildSizesKHR");
	calyxGetAccelerationStructureDeviceAddressFn =
		(PFN_vkGetAccelerationStructureDeviceAddressKHR)vkGetDeviceProcAddr(dev, "vkGetAccelerationStructureDeviceAddressKHR");
	calyxCmdBuildAccelerationStructuresFn =
		(PFN_vkCmdBuildAccelerationStructuresKHR)vkGetDeviceProcAddr(dev, "vkCmdBuildAccelerationStructuresKHR");
	return calyxCreateAccelerationStructureFn != NULL &&
		calyxDestroyAccelerationStructureFn != NULL &&
		calyxGetAccelerationStructureBuildSizesFn != NULL &&
		calyxGetAccelerationStructureDeviceAddressFn != NULL &&
		calyxCmdBuildAccelerationStructuresFn != NULL;
}

static VkDeviceAddress calyxBufferAddress(VkDevice dev, VkBuffer buf) {
	VkBufferDeviceAddressInfo info = {
		.sType  = VK_STRUCTURE_TYPE_BUFFER_DEVICE_ADDRESS_INFO,
		.buffer = buf,
	};
	return calyxGetBufferDeviceAddressFn(dev, &info);
}

static void calyxSetTriangleGeometry(VkAccelerationStructureGeometryKHR* geom,
		VkDeviceAddress vertexData, VkDeviceSize vertexStride, uint32_t maxVertex,
		VkDeviceAddress indexData, int opaque) {
	memset(geom, 0, sizeof(*geom));
	geom->sType        = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_KHR;
	geom->geometryType = VK_GEOMETRY_TYPE_TRIANGLES_KHR;
	geom->flags        = opaque ? VK_GEOMETRY_OPAQUE_BIT_KHR : 0;
	geom->geometry.triangles.sType =
		VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_TRIANGLES_DATA_KHR;
	geom->geometry.triangles.vertexFormat             = VK_FORMAT_R32G32B32_SFLOAT;
	geom->geometry.triangles.vertexData.deviceAddress = vertexData;
	geom->geometry.triangles.vertexStride             = vertexStride;
	geom->geometry.triangles.maxVertex                = maxVertex;
	geom->geometry.triangles.indexType                = VK_INDEX_TYPE_UINT32;
	geom->geometry.triangles.indexData.deviceAddress  = indexData;
}

static void calyxSetInstanceGeometry(VkAccelerationStructureGeometryKHR* geom,
		VkDeviceAddress instanceData) {
	memset(geom, 0, sizeof(*geom));
	geom->sType        = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_KHR;
	geom->geometryType = VK_GEOMETRY_TYPE_INSTANCES_KHR;
	geom->geometry.instances.sType =
		VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_INSTANCES_DATA_KHR;
	geom->geometry.instances.data.deviceAddress = instanceData;
}

static void calyxFillBuildInfo(VkAccelerationStructureBuildGeometryInfoKHR* info,
		VkAccelerationStructureTypeKHR type, VkBuildAccelerationStructureFlagsKHR flags,
		VkBuildAccelerationStructureModeKHR mode,
		VkAccelerationStructureKHR src, VkAccelerationStructureKHR dst,
		uint32_t geometryCount, const VkAccelerationStructureGeometryKHR* geometries,
		VkDeviceAddress scratch) {
	memset(info, 0, sizeof(*info));
	info->sType                     = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_BUILD_GEOMETRY_INFO_KHR;
	info->type                      = type;
	info->flags                     = flags;
	info->mode                      = mode;
	info->srcAccelerationStructure  = src;
	info->dstAccelerationStructure  = dst;
	info->geometryCount             = geometryCount;
	info->pGeometries               = geometries;
	info->scratchData.deviceAddress = scratch;
}

static void calyxAccelBuildSizes(VkDevice dev,
		const VkAccelerationStructureBuildGeometryInfoKHR* info,
		const uint32_t* primitiveCounts,
		VkAccelerationStructureBuildSizesInfoKHR* out) {
	memset(out, 0, sizeof(*out));
	out->sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_BUILD_SIZES_INFO_KHR;
	calyxGetAccelerationStructureBuildSizesFn(dev,
		VK_ACCELERATION_STRUCTURE_BUILD_TYPE_DEVICE_KHR, info, primitiveCounts, out);
}

static VkResult calyxCreateAccel(VkDevice dev,
		const VkAccelerationStructureCreateInfoKHR* info, VkAccelerationStructureKHR* out) {
	return calyxCreateAccelerationStructureFn(dev, info, NULL, out);
}

static void calyxDestroyAccel(VkDevice dev, VkAccelerationStructureKHR as) {
	calyxDestroyAccelerationStructureFn(dev, as, NULL);
}

static VkDeviceAddress calyxAccelAddress(VkDevice dev, VkAccelerationStructureKHR as) {
	VkAccelerationStructureDeviceAddressInfoKHR info = {
		.sType                 = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_DEVICE_ADDRESS_INFO_KHR,
		.accelerationStructure = as,
	};
	return calyxGetAccelerationStructureDeviceAddressFn(dev, &info);
}

static void calyxCmdBuildAccel(VkCommandBuffer cmd,
		const VkAccelerationStructureBuildGeometryInfoKHR* info,
		const VkAccelerationStructureBuildRangeInfoKHR* ranges) {
	const VkAccelerationStructureBuildRangeInfoKHR* rangeList[1] = { ranges };
	calyxCmdBuildAccelerationStructuresFn(cmd, 1, info, rangeList);
}

// Feature chain passed to vkCreateDevice. Heap-allocated so the nodes stay
// valid for the duration of the call regardless of Go stack movement.
static void* calyxFeatureChain(int rayTracing) {
	VkPhysicalDeviceBufferDeviceAddressFeatures* addr =
		calloc(1, sizeof(VkPhysicalDeviceBufferDeviceAddressFeatures));
	addr->sType               = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_BUFFER_DEVICE_ADDRESS_FEATURES;
	addr->bufferDeviceAddress = VK_TRUE;
	if (rayTracing) {
		VkPhysicalDeviceAccelerationStructureFeaturesKHR* accel =
			calloc(1, sizeof(VkPhysicalDeviceAccelerationStructureFeaturesKHR));
		accel->sType                 = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_ACCELERATION_STRUCTURE_FEATURES_KHR;
		accel->accelerationStructure = VK_TRUE;
		VkPhysicalDeviceRayQueryFeaturesKHR* rayQuery =
			calloc(1, sizeof(VkPhysicalDeviceRayQueryFeaturesKHR));
		rayQuery->sType    = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_RAY_QUERY_FEATURES_KHR;
		rayQuery->rayQuery = VK_TRUE;
		accel->pNext = rayQuery;
		addr->pNext  = accel;
	}
	return addr;
}

static void calyxFreeFeatureChain(void* head) {
	VkBaseOutStructure* node = head;
	while (node != NULL) {
		VkBaseOutStructure* next = node->pNext;
		free(node);
		node = next;
	}
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// Handle reinterpretation between the binding layer's types and this file's
// cgo types. Both sides wrap the same C typedefs, so the representations are
// identical.
func cDevice(d vk.Device) C.VkDevice {
	return *(*C.VkDevice)(unsafe.Pointer(&d))
}

func cBuffer(b vk.Buffer) C.VkBuffer {
	return *(*C.VkBuffer)(unsafe.Pointer(&b))
}

func cCommandBuffer(cb vk.CommandBuffer) C.VkCommandBuffer {
	return *(*C.VkCommandBuffer)(unsafe.Pointer(&cb))
}

// loadKHRProcs resolves the extension entry points after logical device
// creation. Buffer device address is mandatory; the acceleration structure
// procs are resolved only when the extension was enabled.
func loadKHRProcs(device vk.Device, rayTracing bool) error {
	if C.calyxLoadAddressProc(cDevice(device)) == 0 {
		return fmt.Errorf("gpu: vkGetBufferDeviceAddress entry point not found")
	}
	if rayTracing && C.calyxLoadAccelProcs(cDevice(device)) == 0 {
		return fmt.Errorf("gpu: acceleration structure entry points not found")
	}
	return nil
}

func bufferDeviceAddress(device vk.Device, buffer vk.Buffer) DeviceAddress {
	return DeviceAddress(C.calyxBufferAddress(cDevice(device), cBuffer(buffer)))
}

// khrDeviceFeatureChain builds the pNext chain for vkCreateDevice: buffer
// device address always, acceleration structure and ray query features when
// ray tracing was requested. Free with freeKHRFeatureChain after the call.
func khrDeviceFeatureChain(rayTracing bool) unsafe.Pointer {
	enable := C.int(0)
	if rayTracing {
		enable = 1
	}
	return C.calyxFeatureChain(enable)
}

func freeKHRFeatureChain(chain unsafe.Pointer) {
	C.calyxFreeFeatureChain(chain)
}

func khrAccelKind(kind AccelKind) C.VkAccelerationStructureTypeKHR {
	if kind == AccelTopLevel {
		return C.VK_ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL_KHR
	}
	return C.VK_ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL_KHR
}

func khrAccelFlags(allowUpdate bool) C.VkBuildAccelerationStructureFlagsKHR {
	flags := C.VkBuildAccelerationStructureFlagsKHR(C.VK_BUILD_ACCELERATION_STRUCTURE_PREFER_FAST_TRACE_BIT_KHR)
	if allowUpdate {
		flags |= C.VK_BUILD_ACCELERATION_STRUCTURE_ALLOW_UPDATE_BIT_KHR
	}
	return flags
}

// khrAccelGeometries lowers an AccelSizeQuery (or the geometry half of an
// AccelBuild) into a C-allocated geometry array plus per-geometry primitive
// counts. The caller frees the array with C.free.
func khrAccelGeometries(query AccelSizeQuery, instanceAddress DeviceAddress) (*C.VkAccelerationStructureGeometryKHR, []C.uint32_t) {
	if query.Kind == AccelTopLevel {
		geoms := (*C.VkAccelerationStructureGeometryKHR)(C.calloc(1, C.sizeof_VkAccelerationStructureGeometryKHR))
		C.calyxSetInstanceGeometry(geoms, C.VkDeviceAddress(instanceAddress))
		return geoms, []C.uint32_t{C.uint32_t(query.InstanceCount)}
	}

	n := len(query.Geometries)
	geoms := (*C.VkAccelerationStructureGeometryKHR)(C.calloc(C.size_t(n), C.sizeof_VkAccelerationStructureGeometryKHR))
	slice := unsafe.Slice(geoms, n)
	counts := make([]C.uint32_t, 0, n)
	for i, g := range query.Geometries {
		opaque := C.int(0)
		if g.Opaque {
			opaque = 1
		}
		C.calyxSetTriangleGeometry(&slice[i],
			C.VkDeviceAddress(g.VertexAddress), C.VkDeviceSize(g.VertexStride),
			C.uint32_t(g.VertexCount-1), C.VkDeviceAddress(g.IndexAddress), opaque)
		counts = append(counts, C.uint32_t(g.IndexCount/3))
	}
	return geoms, counts
}

func (d *vulkanDeviceBackend) AccelerationStructureSizes(query AccelSizeQuery) (AccelSizes, error) {
	if !d.features.RayTracing {
		return AccelSizes{}, fmt.Errorf("%w: acceleration structures", ErrFeatureUnsupported)
	}

	geoms, counts := khrAccelGeometries(query, 0)
	defer C.free(unsafe.Pointer(geoms))

	var buildInfo C.VkAccelerationStructureBuildGeometryInfoKHR
	C.calyxFillBuildInfo(&buildInfo,
		khrAccelKind(query.Kind), khrAccelFlags(query.AllowUpdate),
		C.VK_BUILD_ACCELERATION_STRUCTURE_MODE_BUILD_KHR,
		nil, nil, C.uint32_t(len(counts)), geoms, 0)

	var sizeInfo C.VkAccelerationStructureBuildSizesInfoKHR
	C.calyxAccelBuildSizes(cDevice(d.device), &buildInfo, &counts[0], &sizeInfo)

	return AccelSizes{
		Structure:     uint64(sizeInfo.accelerationStructureSize),
		BuildScratch:  uint64(sizeInfo.buildScratchSize),
		UpdateScratch: uint64(sizeInfo.updateScratchSize),
	}, nil
}

func (d *vulkanDeviceBackend) CreateAccelerationStructure(kind AccelKind, size uint64) (AccelStructure, error) {
	if !d.features.RayTracing {
		return nil, fmt.Errorf("%w: acceleration structures", ErrFeatureUnsupported)
	}

	backing, err := d.CreateBuffer(size, BufferUsageAccelStorage|BufferUsageDeviceLocal)
	if err != nil {
		return nil, fmt.Errorf("gpu: acceleration structure backing buffer: %w", err)
	}
	vb := backing.(*vulkanBuffer)

	var createInfo C.VkAccelerationStructureCreateInfoKHR
	createInfo.sType = C.VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_CREATE_INFO_KHR
	createInfo.buffer = cBuffer(vb.buffer)
	createInfo.size = C.VkDeviceSize(size)
	createInfo._type = khrAccelKind(kind)

	var handle C.VkAccelerationStructureKHR
	if res := C.calyxCreateAccel(cDevice(d.device), &createInfo, &handle); res != C.VK_SUCCESS {
		backing.Release()
		return nil, fmt.Errorf("gpu: create acceleration structure: %s", vk.Error(vk.Result(res)))
	}
	address := C.calyxAccelAddress(cDevice(d.device), handle)

	return &vulkanAccelStructure{
		device:  d.device,
		handle:  handle,
		backing: backing,
		address: DeviceAddress(address),
	}, nil
}

// vulkanAccelStructure pairs the structure handle with its backing buffer.
type vulkanAccelStructure struct {
	device  vk.Device
	handle  C.VkAccelerationStructureKHR
	backing Buffer
	address DeviceAddress
}

var _ AccelStructure = &vulkanAccelStructure{}

func (a *vulkanAccelStructure) Address() DeviceAddress {
	return a.address
}

func (a *vulkanAccelStructure) Release() {
	C.calyxDestroyAccel(cDevice(a.device), a.handle)
	a.backing.Release()
}

func (r *vulkanRecorder) BuildAccelerationStructure(build AccelBuild) {
	geoms, counts := khrAccelGeometries(AccelSizeQuery{
		Kind:          build.Kind,
		Geometries:    build.Geometries,
		InstanceCount: build.InstanceCount,
		AllowUpdate:   build.Mode == AccelModeUpdate,
	}, build.InstanceAddress)
	defer C.free(unsafe.Pointer(geoms))

	mode := C.VkBuildAccelerationStructureModeKHR(C.VK_BUILD_ACCELERATION_STRUCTURE_MODE_BUILD_KHR)
	var src C.VkAccelerationStructureKHR
	if build.Mode == AccelModeUpdate {
		mode = C.VK_BUILD_ACCELERATION_STRUCTURE_MODE_UPDATE_KHR
		if build.Src != nil {
			src = build.Src.(*vulkanAccelStructure).handle
		}
	}

	var buildInfo C.VkAccelerationStructureBuildGeometryInfoKHR
	C.calyxFillBuildInfo(&buildInfo,
		khrAccelKind(build.Kind), khrAccelFlags(true), mode,
		src, build.Dst.(*vulkanAccelStructure).handle,
		C.uint32_t(len(counts)), geoms, C.VkDeviceAddress(build.ScratchAddress))

	ranges := (*C.VkAccelerationStructureBuildRangeInfoKHR)(C.calloc(
		C.size_t(len(counts)), C.sizeof_VkAccelerationStructureBuildRangeInfoKHR))
	defer C.free(unsafe.Pointer(ranges))
	rangeSlice := unsafe.Slice(ranges, len(counts))
	for i, count := range counts {
		rangeSlice[i].primitiveCount = count
	}

	C.calyxCmdBuildAccel(cCommandBuffer(r.cmd), &buildInfo, ranges)
}
