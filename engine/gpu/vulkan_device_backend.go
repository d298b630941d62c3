package gpu

import (
	"fmt"
	"log/slog"

	"github.com/calyx3d/calyx/common"
	vk "github.com/goki/vulkan"
)

// vulkanDeviceBackend is the Vulkan implementation of the Device interface.
type vulkanDeviceBackend struct {
	cfg common.Config

	instance       vk.Instance
	physicalDevice vk.PhysicalDevice
	device         vk.Device

	graphicsQueue       vk.Queue
	computeQueue        vk.Queue
	graphicsFamilyIndex uint32
	computeFamilyIndex  uint32

	graphicsPool vk.CommandPool
	computePool  vk.CommandPool

	features Features

	// Pre-creation config collected from builder options.
	appName            string
	instanceExtensions []string
	enableValidation   bool
}

var _ Device = &vulkanDeviceBackend{}

// Validation layer requested when WithValidation is set.
var validationLayers = []string{"VK_LAYER_KHRONOS_validation\x00"}

// Device extensions required for the ray tracing path.
var rayTracingExtensions = []string{
	"VK_KHR_acceleration_structure\x00",
	"VK_KHR_deferred_host_operations\x00",
	"VK_KHR_ray_query\x00",
}

// NewDevice creates the Vulkan instance, selects a physical device, validates
// required features (multi-draw indirect, buffer device address, and — when
// cfg.RayTracing is set — acceleration structures), and creates the logical
// device with graphics and compute queues. Missing required features abort
// construction with ErrFeatureUnsupported; this is checked exactly once and
// never retried.
//
// Parameters:
//   - cfg: engine configuration (frames in flight, ray tracing request)
//   - options: variadic list of DeviceBuilderOption functions to configure the device
//
// Returns:
//   - Device: the constructed device
//   - error: an error if instance or device construction fails
func NewDevice(cfg common.Config, options ...DeviceBuilderOption) (Device, error) {
	d := &vulkanDeviceBackend{
		cfg:     cfg.Clamped(),
		appName: "calyx",
	}
	for _, opt := range options {
		opt(d)
	}

	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("gpu: vulkan loader init: %w", err)
	}
	if err := d.createInstance(); err != nil {
		return nil, err
	}
	if err := d.selectPhysicalDevice(); err != nil {
		vk.DestroyInstance(d.instance, nil)
		return nil, err
	}
	if err := d.createLogicalDevice(); err != nil {
		vk.DestroyInstance(d.instance, nil)
		return nil, err
	}
	if err := d.createCommandPools(); err != nil {
		d.Release()
		return nil, err
	}

	slog.Info("gpu: device ready",
		"graphicsFamily", d.graphicsFamilyIndex,
		"computeFamily", d.computeFamilyIndex,
		"rayTracing", d.features.RayTracing,
		"framesInFlight", d.cfg.FramesInFlight)
	return d, nil
}

// VulkanInstance exposes the raw instance handle so the window layer can
// create a presentation surface. Returns the zero handle for non-Vulkan
// devices.
//
// Parameters:
//   - d: the device to unwrap
//
// Returns:
//   - vk.Instance: the instance handle, or nil
func VulkanInstance(d Device) vk.Instance {
	if b, ok := d.(*vulkanDeviceBackend); ok {
		return b.instance
	}
	return nil
}

func (d *vulkanDeviceBackend) createInstance() error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   d.appName + "\x00",
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        "calyx\x00",
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.MakeVersion(1, 2, 0),
	}
	createInfo := &vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        appInfo,
		EnabledExtensionCount:   uint32(len(d.instanceExtensions)),
		PpEnabledExtensionNames: d.instanceExtensions,
	}
	if d.enableValidation {
		createInfo.EnabledLayerCount = uint32(len(validationLayers))
		createInfo.PpEnabledLayerNames = validationLayers
	}

	var instance vk.Instance
	if res := vk.CreateInstance(createInfo, nil, &instance); res != vk.Success {
		return fmt.Errorf("gpu: create instance: %s", vk.Error(res))
	}
	if err := vk.InitInstance(instance); err != nil {
		return fmt.Errorf("gpu: init instance: %w", err)
	}
	d.instance = instance
	return nil
}

func (d *vulkanDeviceBackend) selectPhysicalDevice() error {
	var count uint32
	vk.EnumeratePhysicalDevices(d.instance, &count, nil)
	if count == 0 {
		return fmt.Errorf("gpu: no Vulkan-capable devices found")
	}
	devices := make([]vk.PhysicalDevice, count)
	vk.EnumeratePhysicalDevices(d.instance, &count, devices)

	for _, pd := range devices {
		features, ok := d.probeDevice(pd)
		if !ok {
			continue
		}
		d.physicalDevice = pd
		d.features = features
		return nil
	}
	return fmt.Errorf("%w: no device offers multi-draw indirect and buffer device address (ray tracing requested: %v)",
		ErrFeatureUnsupported, d.cfg.RayTracing)
}

// probeDevice checks one physical device against the engine's requirements.
func (d *vulkanDeviceBackend) probeDevice(pd vk.PhysicalDevice) (Features, bool) {
	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(pd, &props)
	props.Deref()

	var coreFeatures vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(pd, &coreFeatures)
	coreFeatures.Deref()

	extensions := readDeviceExtensions(pd)
	features := Features{
		MultiDrawIndirect:   coreFeatures.MultiDrawIndirect == vk.True,
		BufferDeviceAddress: extensions["VK_KHR_buffer_device_address"] || props.ApiVersion >= vk.MakeVersion(1, 2, 0),
		RayTracing:          extensions["VK_KHR_acceleration_structure"] && extensions["VK_KHR_ray_query"],
	}

	if !features.MultiDrawIndirect || !features.BufferDeviceAddress {
		return features, false
	}
	if d.cfg.RayTracing && !features.RayTracing {
		return features, false
	}
	if _, _, err := findQueueFamilies(pd); err != nil {
		return features, false
	}
	return features, true
}

func readDeviceExtensions(pd vk.PhysicalDevice) map[string]bool {
	var count uint32
	vk.EnumerateDeviceExtensionProperties(pd, "", &count, nil)
	props := make([]vk.ExtensionProperties, count)
	vk.EnumerateDeviceExtensionProperties(pd, "", &count, props)

	names := make(map[string]bool, count)
	for i := range props {
		props[i].Deref()
		names[vk.ToString(props[i].ExtensionName[:])] = true
	}
	return names
}

// findQueueFamilies locates a graphics family and a compute family, preferring
// a compute-only family for async skinning dispatch when one exists.
func findQueueFamilies(pd vk.PhysicalDevice) (graphics, compute uint32, err error) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, families)

	graphics, compute = ^uint32(0), ^uint32(0)
	for i := range families {
		families[i].Deref()
		flags := families[i].QueueFlags
		if flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 && graphics == ^uint32(0) {
			graphics = uint32(i)
		}
		if flags&vk.QueueFlags(vk.QueueComputeBit) != 0 {
			if flags&vk.QueueFlags(vk.QueueGraphicsBit) == 0 {
				// Dedicated compute family wins.
				compute = uint32(i)
			} else if compute == ^uint32(0) {
				compute = uint32(i)
			}
		}
	}
	if graphics == ^uint32(0) || compute == ^uint32(0) {
		return 0, 0, fmt.Errorf("gpu: device lacks graphics or compute queue family")
	}
	return graphics, compute, nil
}

func (d *vulkanDeviceBackend) createLogicalDevice() error {
	graphics, compute, err := findQueueFamilies(d.physicalDevice)
	if err != nil {
		return err
	}
	d.graphicsFamilyIndex = graphics
	d.computeFamilyIndex = compute

	priorities := []float32{1.0}
	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: graphics,
		QueueCount:       1,
		PQueuePriorities: priorities,
	}}
	if compute != graphics {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: compute,
			QueueCount:       1,
			PQueuePriorities: priorities,
		})
	}

	extensions := []string{"VK_KHR_swapchain\x00", "VK_KHR_buffer_device_address\x00"}
	if d.cfg.RayTracing {
		extensions = append(extensions, rayTracingExtensions...)
	}

	coreFeatures := vk.PhysicalDeviceFeatures{
		MultiDrawIndirect: vk.True,
	}

	// Feature chain: buffer device address always, acceleration structure and
	// ray query only when requested.
	featureChain := khrDeviceFeatureChain(d.cfg.RayTracing)
	defer freeKHRFeatureChain(featureChain)

	createInfo := &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		PNext:                   featureChain,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{coreFeatures},
	}

	var device vk.Device
	if res := vk.CreateDevice(d.physicalDevice, createInfo, nil, &device); res != vk.Success {
		return fmt.Errorf("gpu: create device: %s", vk.Error(res))
	}
	d.device = device

	// Acceleration structure support is only live when the extension was
	// enabled above, so the reported capability follows the request.
	d.features.RayTracing = d.features.RayTracing && d.cfg.RayTracing
	if err := loadKHRProcs(d.device, d.features.RayTracing); err != nil {
		vk.DestroyDevice(d.device, nil)
		d.device = nil
		return err
	}

	vk.GetDeviceQueue(d.device, d.graphicsFamilyIndex, 0, &d.graphicsQueue)
	vk.GetDeviceQueue(d.device, d.computeFamilyIndex, 0, &d.computeQueue)
	return nil
}

func (d *vulkanDeviceBackend) createCommandPools() error {
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: d.graphicsFamilyIndex,
	}
	if res := vk.CreateCommandPool(d.device, &poolInfo, nil, &d.graphicsPool); res != vk.Success {
		return fmt.Errorf("gpu: create graphics command pool: %s", vk.Error(res))
	}
	poolInfo.QueueFamilyIndex = d.computeFamilyIndex
	if res := vk.CreateCommandPool(d.device, &poolInfo, nil, &d.computePool); res != vk.Success {
		return fmt.Errorf("gpu: create compute command pool: %s", vk.Error(res))
	}
	return nil
}

func (d *vulkanDeviceBackend) Features() Features {
	return d.features
}

func (d *vulkanDeviceBackend) FramesInFlight() int {
	return d.cfg.FramesInFlight
}

func (d *vulkanDeviceBackend) findMemoryType(typeFilter uint32, properties vk.MemoryPropertyFlags) (uint32, error) {
	var memProps vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(d.physicalDevice, &memProps)
	memProps.Deref()

	for i := uint32(0); i < memProps.MemoryTypeCount; i++ {
		memProps.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (memProps.MemoryTypes[i].PropertyFlags&properties) == properties {
			return i, nil
		}
	}
	return 0, fmt.Errorf("gpu: no suitable memory type (filter %#x, props %#x)", typeFilter, properties)
}

func (d *vulkanDeviceBackend) CreateFence(signaled bool) (Fence, error) {
	createInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		createInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if res := vk.CreateFence(d.device, &createInfo, nil, &fence); res != vk.Success {
		return nil, fmt.Errorf("gpu: create fence: %s", vk.Error(res))
	}
	return &vulkanFence{device: d.device, fence: fence}, nil
}

func (d *vulkanDeviceBackend) NewCommandRecorder(queue QueueKind) (CommandRecorder, error) {
	pool := d.graphicsPool
	target := d.graphicsQueue
	if queue == QueueCompute {
		pool = d.computePool
		target = d.computeQueue
	}
	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(d.device, &allocInfo, buffers); res != vk.Success {
		return nil, fmt.Errorf("gpu: allocate command buffer: %s", vk.Error(res))
	}
	return &vulkanRecorder{
		device: d.device,
		pool:   pool,
		queue:  target,
		cmd:    buffers[0],
	}, nil
}

func (d *vulkanDeviceBackend) CreateSemaphore() (Semaphore, error) {
	createInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var sem vk.Semaphore
	if res := vk.CreateSemaphore(d.device, &createInfo, nil, &sem); res != vk.Success {
		return nil, fmt.Errorf("gpu: create semaphore: %s", vk.Error(res))
	}
	return &vulkanSemaphore{device: d.device, semaphore: sem}, nil
}

func (d *vulkanDeviceBackend) WaitIdle() error {
	if res := vk.DeviceWaitIdle(d.device); res != vk.Success {
		return fmt.Errorf("gpu: device wait idle: %s", vk.Error(res))
	}
	return nil
}

func (d *vulkanDeviceBackend) Release() {
	if d.device != nil {
		vk.DeviceWaitIdle(d.device)
		if d.computePool != vk.NullCommandPool {
			vk.DestroyCommandPool(d.device, d.computePool, nil)
		}
		if d.graphicsPool != vk.NullCommandPool {
			vk.DestroyCommandPool(d.device, d.graphicsPool, nil)
		}
		vk.DestroyDevice(d.device, nil)
		d.device = nil
	}
	if d.instance != nil {
		vk.DestroyInstance(d.instance, nil)
		d.instance = nil
	}
}
