//go:build !darwin

package ax

import (
	"context"
	"time"

	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/element"
)

// stubShim keeps the pure packages building on non-darwin hosts. Every
// OS-facing method fails with Unavailable; tests use the fake in
// internal/ax/axtest instead.
type stubShim struct{}

// New returns the stub shim on non-darwin platforms.
func New() (Shim, error) {
	return stubShim{}, nil
}

func errUnsupported() error {
	return axerr.Unavailable("accessibility automation requires a darwin host")
}

func (stubShim) Trusted() bool { return false }
func (stubShim) AppElement(int) (ElemRef, error) { return nil, errUnsupported() }
func (stubShim) Release(ElemRef) {}
func (stubShim) RefToken(ElemRef) uint64 { return 0 }
func (stubShim) Attrs(ElemRef, []string) (map[string]string, error) {
	return nil, errUnsupported()
}
func (stubShim) Attr(ElemRef, string) (string, error) { return "", errUnsupported() }
func (stubShim) AttrRef(ElemRef, string) (ElemRef, error) { return nil, errUnsupported() }
func (stubShim) Frame(ElemRef) (element.Bounds, error) { return element.Bounds{}, errUnsupported() }
func (stubShim) SetFrame(ElemRef, element.Bounds) error { return errUnsupported() }
func (stubShim) Children(ElemRef) ([]ElemRef, error) { return nil, errUnsupported() }
func (stubShim) WindowsOf(ElemRef) ([]ElemRef, error) { return nil, errUnsupported() }
func (stubShim) MainWindowOf(ElemRef) (ElemRef, error) { return nil, errUnsupported() }
func (stubShim) Actions(ElemRef) ([]string, error) { return nil, errUnsupported() }
func (stubShim) Perform(ElemRef, string) error { return errUnsupported() }
func (stubShim) SetAttr(ElemRef, string, string) error { return errUnsupported() }
func (stubShim) WindowID(ElemRef) (uint32, bool) { return 0, false }
func (stubShim) ListWindows() ([]WindowInfo, error) { return nil, errUnsupported() }
func (stubShim) RunningApps() ([]AppInfo, error) { return nil, errUnsupported() }
func (stubShim) FrontmostPID() (int, error) { return 0, errUnsupported() }
func (stubShim) Activate(int) error { return errUnsupported() }
func (stubShim) Launch(context.Context, string) (int, error) { return 0, errUnsupported() }
func (stubShim) IsAlive(int) bool { return false }
func (stubShim) KeyStroke(string, []string) error { return errUnsupported() }
func (stubShim) TypeText(string) error { return errUnsupported() }
func (stubShim) Click(float64, float64, bool, int) error { return errUnsupported() }
func (stubShim) ReadClipboard() (string, error) { return "", errUnsupported() }
func (stubShim) WriteClipboard(string) error { return errUnsupported() }
func (stubShim) ShowHighlight(element.Bounds, time.Duration) error { return errUnsupported() }
