package gpu

// DeviceBuilderOption is a function that configures device construction
// before the Vulkan instance is created.
type DeviceBuilderOption func(*vulkanDeviceBackend)

// WithAppName overrides the application name reported to the driver.
//
// Parameters:
//   - name: application name to embed in the instance info
//
// Returns:
//   - DeviceBuilderOption: the option function
func WithAppName(name string) DeviceBuilderOption {
	return func(d *vulkanDeviceBackend) {
		d.appName = name
	}
}

// WithInstanceExtensions supplies instance extensions required by the window
// layer for surface creation. The strings must be null-terminated, as
// returned by glfw's GetRequiredInstanceExtensions.
//
// Parameters:
//   - extensions: instance extension names to enable
//
// Returns:
//   - DeviceBuilderOption: the option function
func WithInstanceExtensions(extensions []string) DeviceBuilderOption {
	return func(d *vulkanDeviceBackend) {
		d.instanceExtensions = append(d.instanceExtensions, extensions...)
	}
}

// WithValidation enables the Khronos validation layer. Intended for
// development builds only.
//
// Returns:
//   - DeviceBuilderOption: the option function
func WithValidation() DeviceBuilderOption {
	return func(d *vulkanDeviceBackend) {
		d.enableValidation = true
	}
}
