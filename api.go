package rhi

import "fmt"

// API identifies the native graphics API a resource belongs to.
type API uint8

const (
	// APIUndefined is the zero value. NewDevice picks the best registered backend.
	APIUndefined API = iota
	// APIVulkan is the Vulkan backend.
	APIVulkan
	// APIMetal is the Metal backend.
	APIMetal
	// APIDirectX is the Direct3D 12 backend (not implemented).
	APIDirectX
	// APIOpenGL is the OpenGL backend (not implemented).
	APIOpenGL
)

// String returns the registry name of the API.
func (a API) String() string {
	switch a {
	case APIVulkan:
		return "vulkan"
	case APIMetal:
		return "metal"
	case APIDirectX:
		return "directx"
	case APIOpenGL:
		return "opengl"
	default:
		return "undefined"
	}
}

// ParseAPI converts a registry name back into an API tag.
func ParseAPI(name string) (API, error) {
	switch name {
	case "", "auto", "undefined":
		return APIUndefined, nil
	case "vulkan":
		return APIVulkan, nil
	case "metal":
		return APIMetal, nil
	case "directx", "dx12":
		return APIDirectX, nil
	case "opengl", "gl":
		return APIOpenGL, nil
	}
	return APIUndefined, fmt.Errorf("%w: unknown API %q", ErrUnsupported, name)
}

// Resource is implemented by every GPU-owned object.
//
// The API tag is fixed at construction. Destroy releases the native object;
// calling it more than once is a no-op. Destroy is independent of garbage
// collection: dropping the last reference does not release GPU memory.
type Resource interface {
	API() API
	Name() string
	Destroy()
}

// CheckSameAPI returns ErrBackendMismatch unless every non-nil resource
// carries the given API tag.
func CheckSameAPI(api API, resources ...Resource) error {
	for _, r := range resources {
		if r == nil {
			continue
		}
		if r.API() != api {
			return fmt.Errorf("%w: %q is a %s resource, expected %s",
				ErrBackendMismatch, r.Name(), r.API(), api)
		}
	}
	return nil
}
