package common

// Key codes delivered to window key callbacks. The values follow the GLFW
// layout: printable keys carry their ASCII code, function and modifier keys
// live in the GLFW range starting at 256.
const (
	KeySpace = 32

	Key0 = 48
	Key1 = 49
	Key2 = 50
	Key3 = 51
	Key4 = 52
	Key5 = 53
	Key6 = 54
	Key7 = 55
	Key8 = 56
	Key9 = 57

	KeyA = 65
	KeyD = 68
	KeyE = 69
	KeyQ = 81
	KeyS = 83
	KeyW = 87

	KeyEsc       = 256
	KeyBackspace = 259

	KeyLeftShift  = 340
	KeyRightShift = 344
)
