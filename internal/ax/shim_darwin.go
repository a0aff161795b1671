//go:build darwin

package ax

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/element"
	"github.com/zjrosen/axd/internal/log"
)

/*
#cgo CFLAGS: -x objective-c -fobjc-arc
#cgo LDFLAGS: -framework ApplicationServices -framework Foundation -framework AppKit -framework Carbon -framework CoreGraphics

#include <ApplicationServices/ApplicationServices.h>
#include <Carbon/Carbon.h>
#include <CoreGraphics/CoreGraphics.h>
#include <Foundation/Foundation.h>
#include <AppKit/AppKit.h>
#include <dlfcn.h>

static int ax_is_trusted() {
    return AXIsProcessTrusted();
}

static AXUIElementRef ax_create_application(int pid) {
    return AXUIElementCreateApplication(pid);
}

static CFTypeRef ax_copy_attribute_value(AXUIElementRef element, CFStringRef attribute, int *err) {
    CFTypeRef value = NULL;
    AXError e = AXUIElementCopyAttributeValue(element, attribute, &value);
    *err = (int)e;
    if (e != kAXErrorSuccess) {
        return NULL;
    }
    return value;
}

// Batched multi-attribute read; returns a CFArray parallel to the requested
// names. Missing attributes come back as kCFNull entries.
static CFArrayRef ax_copy_multiple(AXUIElementRef element, CFArrayRef names, int *err) {
    CFArrayRef values = NULL;
    AXError e = AXUIElementCopyMultipleAttributeValues(element, names,
        (AXCopyMultipleAttributeOptions)0, &values);
    *err = (int)e;
    if (e != kAXErrorSuccess) {
        return NULL;
    }
    return values;
}

static CFArrayRef ax_copy_action_names(AXUIElementRef element, int *err) {
    CFArrayRef names = NULL;
    AXError e = AXUIElementCopyActionNames(element, &names);
    *err = (int)e;
    if (e != kAXErrorSuccess) {
        return NULL;
    }
    return names;
}

static int ax_perform_action(AXUIElementRef element, CFStringRef action) {
    return (int)AXUIElementPerformAction(element, action);
}

static int ax_set_attribute_value(AXUIElementRef element, CFStringRef attribute, CFTypeRef value) {
    return (int)AXUIElementSetAttributeValue(element, attribute, value);
}

static char* cf_string_to_cstring(CFStringRef str) {
    if (str == NULL) return NULL;
    CFIndex length = CFStringGetLength(str);
    CFIndex maxSize = CFStringGetMaximumSizeForEncoding(length, kCFStringEncodingUTF8) + 1;
    char *buffer = (char *)malloc(maxSize);
    if (buffer == NULL) return NULL;
    if (!CFStringGetCString(str, buffer, maxSize, kCFStringEncodingUTF8)) {
        free(buffer);
        return NULL;
    }
    return buffer;
}

static CFStringRef cstring_to_cf_string(const char *str) {
    return CFStringCreateWithCString(kCFAllocatorDefault, str, kCFStringEncodingUTF8);
}

// stringify_cf bridges every scalar CF kind the accessibility API hands
// back: strings, numbers, booleans, dates, attributed strings, URLs, and
// structured AXValues (point, size, rect, range). Returns NULL only for
// genuinely unknown types; *known* is set accordingly.
static char* stringify_cf(CFTypeRef value, int *known) {
    *known = 1;
    if (value == NULL) {
        *known = 0;
        return NULL;
    }
    CFTypeID tid = CFGetTypeID(value);
    if (tid == CFStringGetTypeID()) {
        return cf_string_to_cstring((CFStringRef)value);
    }
    if (tid == CFAttributedStringGetTypeID()) {
        return cf_string_to_cstring(CFAttributedStringGetString((CFAttributedStringRef)value));
    }
    if (tid == CFBooleanGetTypeID()) {
        const char *s = CFBooleanGetValue((CFBooleanRef)value) ? "true" : "false";
        return strdup(s);
    }
    if (tid == CFNumberGetTypeID()) {
        CFNumberRef num = (CFNumberRef)value;
        char buf[64];
        if (CFNumberIsFloatType(num)) {
            double d = 0;
            CFNumberGetValue(num, kCFNumberDoubleType, &d);
            snprintf(buf, sizeof(buf), "%g", d);
        } else {
            long long i = 0;
            CFNumberGetValue(num, kCFNumberLongLongType, &i);
            snprintf(buf, sizeof(buf), "%lld", i);
        }
        return strdup(buf);
    }
    if (tid == CFDateGetTypeID()) {
        CFAbsoluteTime at = CFDateGetAbsoluteTime((CFDateRef)value);
        char buf[64];
        snprintf(buf, sizeof(buf), "%.3f", at + kCFAbsoluteTimeIntervalSince1970);
        return strdup(buf);
    }
    if (tid == CFURLGetTypeID()) {
        return cf_string_to_cstring(CFURLGetString((CFURLRef)value));
    }
    if (tid == AXValueGetTypeID()) {
        AXValueRef av = (AXValueRef)value;
        AXValueType vt = AXValueGetType(av);
        char buf[96];
        if (vt == kAXValueCGPointType) {
            CGPoint p;
            AXValueGetValue(av, kAXValueCGPointType, &p);
            snprintf(buf, sizeof(buf), "%g,%g", p.x, p.y);
            return strdup(buf);
        }
        if (vt == kAXValueCGSizeType) {
            CGSize s;
            AXValueGetValue(av, kAXValueCGSizeType, &s);
            snprintf(buf, sizeof(buf), "%gx%g", s.width, s.height);
            return strdup(buf);
        }
        if (vt == kAXValueCGRectType) {
            CGRect r;
            AXValueGetValue(av, kAXValueCGRectType, &r);
            snprintf(buf, sizeof(buf), "%g,%g,%g,%g", r.origin.x, r.origin.y, r.size.width, r.size.height);
            return strdup(buf);
        }
        if (vt == kAXValueCFRangeType) {
            CFRange rg;
            AXValueGetValue(av, kAXValueCFRangeType, &rg);
            snprintf(buf, sizeof(buf), "%ld..%ld", (long)rg.location, (long)(rg.location + rg.length));
            return strdup(buf);
        }
    }
    *known = 0;
    return NULL;
}

static int ax_value_get_point(CFTypeRef value, double *x, double *y) {
    if (value == NULL || CFGetTypeID(value) != AXValueGetTypeID()) return 0;
    CGPoint point;
    if (AXValueGetValue((AXValueRef)value, kAXValueCGPointType, &point)) {
        *x = point.x;
        *y = point.y;
        return 1;
    }
    return 0;
}

static int ax_value_get_size(CFTypeRef value, double *w, double *h) {
    if (value == NULL || CFGetTypeID(value) != AXValueGetTypeID()) return 0;
    CGSize size;
    if (AXValueGetValue((AXValueRef)value, kAXValueCGSizeType, &size)) {
        *w = size.width;
        *h = size.height;
        return 1;
    }
    return 0;
}

static int ax_set_frame(AXUIElementRef element, double x, double y, double w, double h) {
    CGPoint p = CGPointMake(x, y);
    CGSize s = CGSizeMake(w, h);
    AXValueRef pv = AXValueCreate(kAXValueCGPointType, &p);
    AXValueRef sv = AXValueCreate(kAXValueCGSizeType, &s);
    AXError e1 = AXUIElementSetAttributeValue(element, kAXPositionAttribute, pv);
    AXError e2 = AXUIElementSetAttributeValue(element, kAXSizeAttribute, sv);
    CFRelease(pv);
    CFRelease(sv);
    if (e1 != kAXErrorSuccess) return (int)e1;
    return (int)e2;
}

// Private bridge from an accessibility window element to its CGWindowID.
// Looked up at runtime: the symbol is not part of the public SDK and may
// vanish across OS releases, so static binding is off the table.
typedef AXError (*ax_get_window_fn)(AXUIElementRef, CGWindowID *);

static ax_get_window_fn ax_window_id_fn() {
    static ax_get_window_fn fn = NULL;
    static int looked_up = 0;
    if (!looked_up) {
        fn = (ax_get_window_fn)dlsym(RTLD_DEFAULT, "_AXUIElementGetWindow");
        looked_up = 1;
    }
    return fn;
}

static int ax_window_id_available() {
    return ax_window_id_fn() != NULL;
}

static int ax_window_id(AXUIElementRef element, uint32_t *out) {
    ax_get_window_fn fn = ax_window_id_fn();
    if (fn == NULL) return -1;
    CGWindowID wid = 0;
    if (fn(element, &wid) != kAXErrorSuccess) return -2;
    *out = (uint32_t)wid;
    return 0;
}

// Window enumeration: on-screen windows, front to back.
static CFArrayRef cg_list_windows() {
    return CGWindowListCopyWindowInfo(
        kCGWindowListOptionOnScreenOnly | kCGWindowListExcludeDesktopElements,
        kCGNullWindowID);
}

static int app_frontmost_pid() {
    NSRunningApplication *frontApp = [[NSWorkspace sharedWorkspace] frontmostApplication];
    if (frontApp == nil) return -1;
    return (int)[frontApp processIdentifier];
}

static int app_activate(int pid) {
    NSRunningApplication *app = [NSRunningApplication runningApplicationWithProcessIdentifier:(pid_t)pid];
    if (app == nil) return -1;
    BOOL ok = [app activateWithOptions:NSApplicationActivateIgnoringOtherApps];
    return ok ? 0 : -2;
}

static int app_is_alive(int pid) {
    NSRunningApplication *app = [NSRunningApplication runningApplicationWithProcessIdentifier:(pid_t)pid];
    return (app != nil && ![app isTerminated]) ? 1 : 0;
}

// Fills parallel arrays describing running applications.
// policy: 0 regular, 1 accessory, 2 prohibited. launched: unix seconds, 0 when unknown.
static int app_running_list(int *pids, int *policies, double *launched, int *frontmost,
                            char **bundles, char **names, int maxCount) {
    NSArray<NSRunningApplication *> *apps = [[NSWorkspace sharedWorkspace] runningApplications];
    int i = 0;
    for (NSRunningApplication *app in apps) {
        if (i >= maxCount) break;
        pids[i] = (int)[app processIdentifier];
        switch ([app activationPolicy]) {
        case NSApplicationActivationPolicyRegular: policies[i] = 0; break;
        case NSApplicationActivationPolicyAccessory: policies[i] = 1; break;
        default: policies[i] = 2; break;
        }
        NSDate *date = [app launchDate];
        launched[i] = date != nil ? [date timeIntervalSince1970] : 0;
        frontmost[i] = [app isActive] ? 1 : 0;
        const char *bid = [[app bundleIdentifier] UTF8String];
        const char *nm = [[app localizedName] UTF8String];
        bundles[i] = strdup(bid != NULL ? bid : "");
        names[i] = strdup(nm != NULL ? nm : "");
        i++;
    }
    return i;
}

static int app_launch(const char *bundleOrPath, int *outPid) {
    NSString *ident = [NSString stringWithUTF8String:bundleOrPath];
    NSURL *url = nil;
    if ([ident hasPrefix:@"/"]) {
        url = [NSURL fileURLWithPath:ident];
    } else {
        url = [[NSWorkspace sharedWorkspace] URLForApplicationWithBundleIdentifier:ident];
    }
    if (url == nil) return -1;

    __block int launchedPid = -1;
    __block int done = 0;
    NSWorkspaceOpenConfiguration *config = [NSWorkspaceOpenConfiguration configuration];
    config.activates = NO;
    [[NSWorkspace sharedWorkspace] openApplicationAtURL:url
                                          configuration:config
                                      completionHandler:^(NSRunningApplication *app, NSError *error) {
        if (app != nil) launchedPid = (int)[app processIdentifier];
        done = 1;
    }];
    // Pump the runloop until the completion handler fires; the Go side
    // enforces the overall deadline.
    NSDate *deadline = [NSDate dateWithTimeIntervalSinceNow:15.0];
    while (!done && [deadline timeIntervalSinceNow] > 0) {
        [[NSRunLoop currentRunLoop] runMode:NSDefaultRunLoopMode
                                 beforeDate:[NSDate dateWithTimeIntervalSinceNow:0.05]];
    }
    if (launchedPid < 0) return -2;
    *outPid = launchedPid;
    return 0;
}

// Keyboard synthesis. Named keys use fixed virtual key codes; character keys
// resolve through the active input source via UCKeyTranslate so non-US
// layouts type what the caller asked for.
static int key_post(uint16_t keycode, uint64_t flags, int down) {
    CGEventRef ev = CGEventCreateKeyboardEvent(NULL, (CGKeyCode)keycode, down ? true : false);
    if (ev == NULL) return -1;
    CGEventSetFlags(ev, (CGEventFlags)flags);
    CGEventPost(kCGHIDEventTap, ev);
    CFRelease(ev);
    return 0;
}

// key_for_char scans the active layout for the keycode+modifier combination
// producing the given UTF-32 character. mods out: bit0 shift, bit1 option.
static int key_for_char(uint32_t ch, uint16_t *keycode, int *mods) {
    TISInputSourceRef source = TISCopyCurrentKeyboardLayoutInputSource();
    if (source == NULL) return -1;
    CFDataRef layoutData = (CFDataRef)TISGetInputSourceProperty(source, kTISPropertyUnicodeKeyLayoutData);
    if (layoutData == NULL) {
        CFRelease(source);
        return -2;
    }
    const UCKeyboardLayout *layout = (const UCKeyboardLayout *)CFDataGetBytePtr(layoutData);

    static const UInt32 modCombos[4] = {0, shiftKey >> 8, optionKey >> 8, (shiftKey | optionKey) >> 8};
    for (int m = 0; m < 4; m++) {
        for (UInt16 code = 0; code < 128; code++) {
            UInt32 deadKeyState = 0;
            UniChar chars[4];
            UniCharCount len = 0;
            OSStatus status = UCKeyTranslate(layout, code, kUCKeyActionDown, modCombos[m],
                LMGetKbdType(), kUCKeyTranslateNoDeadKeysBit, &deadKeyState,
                4, &len, chars);
            if (status == noErr && len == 1 && (uint32_t)chars[0] == ch) {
                *keycode = code;
                *mods = m;
                CFRelease(source);
                return 0;
            }
        }
    }
    CFRelease(source);
    return -3;
}

static int mouse_click(double x, double y, int right, int clicks) {
    CGPoint pt = CGPointMake(x, y);
    CGEventType downType = right ? kCGEventRightMouseDown : kCGEventLeftMouseDown;
    CGEventType upType = right ? kCGEventRightMouseUp : kCGEventLeftMouseUp;
    CGMouseButton button = right ? kCGMouseButtonRight : kCGMouseButtonLeft;

    for (int i = 1; i <= clicks; i++) {
        CGEventRef down = CGEventCreateMouseEvent(NULL, downType, pt, button);
        CGEventRef up = CGEventCreateMouseEvent(NULL, upType, pt, button);
        if (down == NULL || up == NULL) return -1;
        CGEventSetIntegerValueField(down, kCGMouseEventClickState, i);
        CGEventSetIntegerValueField(up, kCGMouseEventClickState, i);
        CGEventPost(kCGHIDEventTap, down);
        CGEventPost(kCGHIDEventTap, up);
        CFRelease(down);
        CFRelease(up);
    }
    return 0;
}

static char* pasteboard_read() {
    NSString *s = [[NSPasteboard generalPasteboard] stringForType:NSPasteboardTypeString];
    if (s == nil) return NULL;
    return strdup([s UTF8String]);
}

static int pasteboard_write(const char *text) {
    NSPasteboard *pb = [NSPasteboard generalPasteboard];
    [pb clearContents];
    BOOL ok = [pb setString:[NSString stringWithUTF8String:text] forType:NSPasteboardTypeString];
    return ok ? 0 : -1;
}

// Transient borderless highlight window for action visualization.
static void show_highlight(double x, double y, double w, double h, double seconds) {
    NSScreen *primary = [[NSScreen screens] firstObject];
    double screenH = primary != nil ? [primary frame].size.height : 0;
    // Convert top-left-origin global coordinates to AppKit's bottom-left.
    NSRect frame = NSMakeRect(x, screenH - y - h, w, h);
    NSWindow *win = [[NSWindow alloc] initWithContentRect:frame
                                                styleMask:NSWindowStyleMaskBorderless
                                                  backing:NSBackingStoreBuffered
                                                    defer:NO];
    [win setLevel:NSScreenSaverWindowLevel];
    [win setOpaque:NO];
    [win setIgnoresMouseEvents:YES];
    [win setBackgroundColor:[[NSColor systemYellowColor] colorWithAlphaComponent:0.3]];
    [win orderFrontRegardless];
    dispatch_after(dispatch_time(DISPATCH_TIME_NOW, (int64_t)(seconds * NSEC_PER_SEC)),
                   dispatch_get_main_queue(), ^{
        [win orderOut:nil];
    });
}
*/
import "C"

// AX error codes surfaced by the accessibility API.
const (
	axErrSuccess              = 0
	axErrFailure              = -25200
	axErrIllegalArgument      = -25201
	axErrInvalidUIElement     = -25202
	axErrCannotComplete       = -25204
	axErrAttributeUnsupported = -25205
	axErrActionUnsupported    = -25206
	axErrNotificationUnsupp   = -25207
	axErrNotImplemented       = -25208
	axErrAPIDisabled          = -25211
	axErrNoValue              = -25212
	axErrTimeout              = -25213
)

// axError maps an AXError code onto the error taxonomy.
func axError(code int, op string) error {
	switch code {
	case axErrSuccess:
		return nil
	case axErrAPIDisabled:
		return axerr.PermissionDenied("accessibility permission not granted (enable this process under System Settings > Privacy & Security > Accessibility)")
	case axErrInvalidUIElement:
		return axerr.NotFound("%s: element is no longer valid", op)
	case axErrCannotComplete, axErrTimeout:
		return axerr.Unavailable("%s: target not responding to accessibility requests", op)
	case axErrNoValue, axErrAttributeUnsupported, axErrActionUnsupported:
		return axerr.NotFound("%s: no such attribute or action", op)
	case axErrIllegalArgument:
		return axerr.InvalidArgument("%s: illegal accessibility argument", op)
	default:
		return axerr.Internal("%s: accessibility error %d", op, code)
	}
}

type darwinRef struct {
	ref C.AXUIElementRef
}

type darwinShim struct {
	mu sync.Mutex
}

// New creates the darwin shim. Permission may be granted later; Trusted is
// probed per call site.
func New() (Shim, error) {
	return &darwinShim{}, nil
}

func (s *darwinShim) Trusted() bool {
	return C.ax_is_trusted() != 0
}

func (s *darwinShim) AppElement(pid int) (ElemRef, error) {
	if !s.Trusted() {
		return nil, axerr.PermissionDenied("accessibility permission not granted (enable this process under System Settings > Privacy & Security > Accessibility)")
	}
	if !s.IsAlive(pid) {
		return nil, axerr.NotFound("no running process with pid %d", pid)
	}
	ref := C.ax_create_application(C.int(pid))
	if ref == 0 {
		return nil, axerr.Internal("failed to create accessibility element for pid %d", pid)
	}
	return &darwinRef{ref: ref}, nil
}

func (s *darwinShim) Release(ref ElemRef) {
	r, ok := ref.(*darwinRef)
	if !ok || r == nil || r.ref == 0 {
		return
	}
	C.CFRelease(C.CFTypeRef(r.ref))
	r.ref = 0
}

func (s *darwinShim) RefToken(ref ElemRef) uint64 {
	r, ok := ref.(*darwinRef)
	if !ok || r == nil {
		return 0
	}
	// CFHash of an AXUIElement is stable for the same underlying element,
	// which is exactly what the traversal visited set needs.
	return uint64(C.CFHash(C.CFTypeRef(r.ref)))
}

func cfString(s string) C.CFStringRef {
	cs := C.CString(s)
	defer C.free(unsafe.Pointer(cs))
	return C.cstring_to_cf_string(cs)
}

func goStringFree(cs *C.char) string {
	if cs == nil {
		return ""
	}
	defer C.free(unsafe.Pointer(cs))
	return C.GoString(cs)
}

func (s *darwinShim) Attrs(ref ElemRef, names []string) (map[string]string, error) {
	r := ref.(*darwinRef)

	cfNames := make([]C.CFStringRef, len(names))
	for i, n := range names {
		cfNames[i] = cfString(n)
	}
	defer func() {
		for _, n := range cfNames {
			C.CFRelease(C.CFTypeRef(n))
		}
	}()

	arr := C.CFArrayCreate(C.kCFAllocatorDefault,
		(*unsafe.Pointer)(unsafe.Pointer(&cfNames[0])),
		C.CFIndex(len(cfNames)), &C.kCFTypeArrayCallBacks)
	defer C.CFRelease(C.CFTypeRef(arr))

	var code C.int
	values := C.ax_copy_multiple(r.ref, arr, &code)
	if values == 0 {
		// Batched read refused outright; fall back to per-attribute reads
		// so a single unsupported attribute cannot sink the whole node.
		return s.attrsFallback(r, names, int(code))
	}
	defer C.CFRelease(C.CFTypeRef(values))

	out := make(map[string]string, len(names))
	count := int(C.CFArrayGetCount(values))
	for i := 0; i < count && i < len(names); i++ {
		v := C.CFTypeRef(C.CFArrayGetValueAtIndex(values, C.CFIndex(i)))
		if v == 0 || C.CFGetTypeID(v) == C.CFNullGetTypeID() {
			continue
		}
		var known C.int
		cs := C.stringify_cf(v, &known)
		if known == 0 {
			log.Debug(log.CatAX, "unbridged attribute type", "attr", names[i])
			continue
		}
		out[names[i]] = goStringFree(cs)
	}
	return out, nil
}

func (s *darwinShim) attrsFallback(r *darwinRef, names []string, batchCode int) (map[string]string, error) {
	if err := axError(batchCode, "batched attribute read"); err != nil &&
		(axerr.IsKind(err, axerr.KindPermissionDenied) || axerr.IsKind(err, axerr.KindNotFound)) {
		return nil, err
	}
	out := make(map[string]string, len(names))
	for _, n := range names {
		v, err := s.Attr(r, n)
		if err != nil {
			continue
		}
		out[n] = v
	}
	return out, nil
}

func (s *darwinShim) Attr(ref ElemRef, name string) (string, error) {
	r := ref.(*darwinRef)
	cfName := cfString(name)
	defer C.CFRelease(C.CFTypeRef(cfName))

	var code C.int
	v := C.ax_copy_attribute_value(r.ref, cfName, &code)
	if v == 0 {
		return "", axError(int(code), "read "+name)
	}
	defer C.CFRelease(v)

	var known C.int
	cs := C.stringify_cf(v, &known)
	if known == 0 {
		return "", axerr.Internal("read %s: unbridged attribute type", name)
	}
	return goStringFree(cs), nil
}

func (s *darwinShim) AttrRef(ref ElemRef, name string) (ElemRef, error) {
	r := ref.(*darwinRef)
	cfName := cfString(name)
	defer C.CFRelease(C.CFTypeRef(cfName))

	var code C.int
	v := C.ax_copy_attribute_value(r.ref, cfName, &code)
	if v == 0 {
		if int(code) == axErrNoValue || int(code) == axErrAttributeUnsupported {
			return nil, nil
		}
		return nil, axError(int(code), "read "+name)
	}
	if C.CFGetTypeID(v) != C.AXUIElementGetTypeID() {
		C.CFRelease(v)
		return nil, nil
	}
	// Ownership transfers to the returned ref.
	return &darwinRef{ref: C.AXUIElementRef(v)}, nil
}

func (s *darwinShim) Frame(ref ElemRef) (element.Bounds, error) {
	r := ref.(*darwinRef)

	posName := cfString("AXPosition")
	defer C.CFRelease(C.CFTypeRef(posName))
	sizeName := cfString("AXSize")
	defer C.CFRelease(C.CFTypeRef(sizeName))

	var code C.int
	pos := C.ax_copy_attribute_value(r.ref, posName, &code)
	if pos == 0 {
		return element.Bounds{}, axError(int(code), "read AXPosition")
	}
	defer C.CFRelease(pos)
	size := C.ax_copy_attribute_value(r.ref, sizeName, &code)
	if size == 0 {
		return element.Bounds{}, axError(int(code), "read AXSize")
	}
	defer C.CFRelease(size)

	var x, y, w, h C.double
	if C.ax_value_get_point(pos, &x, &y) == 0 || C.ax_value_get_size(size, &w, &h) == 0 {
		return element.Bounds{}, axerr.Internal("element frame is not a point/size pair")
	}
	return element.Bounds{X: float64(x), Y: float64(y), W: float64(w), H: float64(h)}, nil
}

func (s *darwinShim) SetFrame(ref ElemRef, b element.Bounds) error {
	r := ref.(*darwinRef)
	code := C.ax_set_frame(r.ref, C.double(b.X), C.double(b.Y), C.double(b.W), C.double(b.H))
	return axError(int(code), "set frame")
}

func (s *darwinShim) refArrayAttr(ref ElemRef, name string) ([]ElemRef, error) {
	r := ref.(*darwinRef)
	cfName := cfString(name)
	defer C.CFRelease(C.CFTypeRef(cfName))

	var code C.int
	v := C.ax_copy_attribute_value(r.ref, cfName, &code)
	if v == 0 {
		if int(code) == axErrNoValue || int(code) == axErrAttributeUnsupported {
			return nil, nil
		}
		return nil, axError(int(code), "read "+name)
	}
	defer C.CFRelease(v)

	if C.CFGetTypeID(v) != C.CFArrayGetTypeID() {
		return nil, nil
	}
	arr := C.CFArrayRef(v)
	count := int(C.CFArrayGetCount(arr))
	out := make([]ElemRef, 0, count)
	for i := 0; i < count; i++ {
		child := C.AXUIElementRef(C.CFArrayGetValueAtIndex(arr, C.CFIndex(i)))
		if child != 0 {
			C.CFRetain(C.CFTypeRef(child))
			out = append(out, &darwinRef{ref: child})
		}
	}
	return out, nil
}

func (s *darwinShim) Children(ref ElemRef) ([]ElemRef, error) {
	return s.refArrayAttr(ref, "AXChildren")
}

func (s *darwinShim) WindowsOf(ref ElemRef) ([]ElemRef, error) {
	return s.refArrayAttr(ref, "AXWindows")
}

func (s *darwinShim) MainWindowOf(ref ElemRef) (ElemRef, error) {
	return s.AttrRef(ref, "AXMainWindow")
}

func (s *darwinShim) Actions(ref ElemRef) ([]string, error) {
	r := ref.(*darwinRef)
	var code C.int
	names := C.ax_copy_action_names(r.ref, &code)
	if names == 0 {
		if int(code) == axErrNoValue {
			return nil, nil
		}
		return nil, axError(int(code), "list actions")
	}
	defer C.CFRelease(C.CFTypeRef(names))

	count := int(C.CFArrayGetCount(names))
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		name := C.CFStringRef(C.CFArrayGetValueAtIndex(names, C.CFIndex(i)))
		out = append(out, goStringFree(C.cf_string_to_cstring(name)))
	}
	return out, nil
}

func (s *darwinShim) Perform(ref ElemRef, action string) error {
	r := ref.(*darwinRef)
	cfAction := cfString(action)
	defer C.CFRelease(C.CFTypeRef(cfAction))
	return axError(int(C.ax_perform_action(r.ref, cfAction)), "perform "+action)
}

func (s *darwinShim) SetAttr(ref ElemRef, name, value string) error {
	r := ref.(*darwinRef)
	cfName := cfString(name)
	defer C.CFRelease(C.CFTypeRef(cfName))

	var code C.int
	switch value {
	case "true":
		code = C.ax_set_attribute_value(r.ref, cfName, C.CFTypeRef(unsafe.Pointer(C.kCFBooleanTrue)))
	case "false":
		code = C.ax_set_attribute_value(r.ref, cfName, C.CFTypeRef(unsafe.Pointer(C.kCFBooleanFalse)))
	default:
		cfValue := cfString(value)
		defer C.CFRelease(C.CFTypeRef(cfValue))
		code = C.ax_set_attribute_value(r.ref, cfName, C.CFTypeRef(cfValue))
	}
	return axError(int(code), "set "+name)
}

func (s *darwinShim) WindowID(ref ElemRef) (uint32, bool) {
	if C.ax_window_id_available() == 0 {
		return 0, false
	}
	r := ref.(*darwinRef)
	var id C.uint32_t
	if C.ax_window_id(r.ref, &id) != 0 {
		return 0, false
	}
	return uint32(id), true
}

func (s *darwinShim) ListWindows() ([]WindowInfo, error) {
	arr := C.cg_list_windows()
	if arr == 0 {
		return nil, axerr.Internal("window enumeration failed")
	}
	defer C.CFRelease(C.CFTypeRef(arr))

	count := int(C.CFArrayGetCount(arr))
	out := make([]WindowInfo, 0, count)
	for i := 0; i < count; i++ {
		dict := C.CFDictionaryRef(C.CFArrayGetValueAtIndex(arr, C.CFIndex(i)))
		info, ok := parseWindowDict(dict)
		if !ok {
			continue
		}
		// The enumeration is front-to-back; the slice index is the z-index.
		info.ZIndex = i
		out = append(out, info)
	}
	return out, nil
}

func dictString(dict C.CFDictionaryRef, key string) string {
	cfKey := cfString(key)
	defer C.CFRelease(C.CFTypeRef(cfKey))
	v := C.CFDictionaryGetValue(dict, unsafe.Pointer(cfKey))
	if v == nil {
		return ""
	}
	var known C.int
	return goStringFree(C.stringify_cf(C.CFTypeRef(v), &known))
}

func dictInt(dict C.CFDictionaryRef, key string) (int64, bool) {
	cfKey := cfString(key)
	defer C.CFRelease(C.CFTypeRef(cfKey))
	v := C.CFDictionaryGetValue(dict, unsafe.Pointer(cfKey))
	if v == nil || C.CFGetTypeID(C.CFTypeRef(v)) != C.CFNumberGetTypeID() {
		return 0, false
	}
	var n C.longlong
	C.CFNumberGetValue(C.CFNumberRef(v), C.kCFNumberLongLongType, unsafe.Pointer(&n))
	return int64(n), true
}

func parseWindowDict(dict C.CFDictionaryRef) (WindowInfo, bool) {
	var info WindowInfo

	id, ok := dictInt(dict, "kCGWindowNumber")
	if !ok {
		return info, false
	}
	info.WindowID = uint32(id)

	pid, ok := dictInt(dict, "kCGWindowOwnerPID")
	if !ok {
		return info, false
	}
	info.OwnerPID = int(pid)

	// Skip windows above the normal layer (menu bar, status items).
	if layer, ok := dictInt(dict, "kCGWindowLayer"); ok && layer != 0 {
		return info, false
	}

	info.OwnerName = dictString(dict, "kCGWindowOwnerName")
	info.Title = dictString(dict, "kCGWindowName")
	info.OnScreen = true

	cfKey := cfString("kCGWindowBounds")
	boundsDict := C.CFDictionaryGetValue(dict, unsafe.Pointer(cfKey))
	C.CFRelease(C.CFTypeRef(cfKey))
	if boundsDict != nil {
		var rect C.CGRect
		if C.CGRectMakeWithDictionaryRepresentation(C.CFDictionaryRef(boundsDict), &rect) {
			info.Bounds = element.Bounds{
				X: float64(rect.origin.x), Y: float64(rect.origin.y),
				W: float64(rect.size.width), H: float64(rect.size.height),
			}
		}
	}
	return info, true
}

const maxRunningApps = 512

func (s *darwinShim) RunningApps() ([]AppInfo, error) {
	pids := make([]C.int, maxRunningApps)
	policies := make([]C.int, maxRunningApps)
	launched := make([]C.double, maxRunningApps)
	frontmost := make([]C.int, maxRunningApps)
	bundles := make([]*C.char, maxRunningApps)
	names := make([]*C.char, maxRunningApps)

	n := int(C.app_running_list(&pids[0], &policies[0], &launched[0], &frontmost[0],
		&bundles[0], &names[0], C.int(maxRunningApps)))

	out := make([]AppInfo, 0, n)
	for i := 0; i < n; i++ {
		info := AppInfo{
			PID:       int(pids[i]),
			Policy:    Policy(policies[i]),
			Frontmost: frontmost[i] != 0,
			BundleID:  goStringFree(bundles[i]),
			Name:      goStringFree(names[i]),
		}
		if launched[i] != 0 {
			sec := int64(launched[i])
			nsec := int64((float64(launched[i]) - float64(sec)) * 1e9)
			info.LaunchedAt = time.Unix(sec, nsec)
		}
		out = append(out, info)
	}
	return out, nil
}

func (s *darwinShim) FrontmostPID() (int, error) {
	pid := int(C.app_frontmost_pid())
	if pid < 0 {
		return 0, axerr.Unavailable("no frontmost application")
	}
	return pid, nil
}

func (s *darwinShim) Activate(pid int) error {
	switch C.app_activate(C.int(pid)) {
	case 0:
		return nil
	case -1:
		return axerr.NotFound("no running process with pid %d", pid)
	default:
		return axerr.Unavailable("activation of pid %d refused", pid)
	}
}

func (s *darwinShim) IsAlive(pid int) bool {
	return C.app_is_alive(C.int(pid)) != 0
}

func (s *darwinShim) Launch(ctx context.Context, bundleIDOrPath string) (int, error) {
	cs := C.CString(bundleIDOrPath)
	defer C.free(unsafe.Pointer(cs))

	var pid C.int
	switch C.app_launch(cs, &pid) {
	case 0:
		return int(pid), nil
	case -1:
		return 0, axerr.NotFound("no application found for %q", bundleIDOrPath)
	default:
		return 0, axerr.Unavailable("launch of %q did not complete", bundleIDOrPath)
	}
}

// namedKeys maps layout-independent key names onto their fixed virtual key
// codes.
var namedKeys = map[string]uint16{
	"return": 36, "enter": 76, "tab": 48, "space": 49, "delete": 51,
	"forwarddelete": 117, "escape": 53, "left": 123, "right": 124,
	"down": 125, "up": 126, "home": 115, "end": 119, "pageup": 116,
	"pagedown": 121, "f1": 122, "f2": 120, "f3": 99, "f4": 118, "f5": 96,
	"f6": 97, "f7": 98, "f8": 100, "f9": 101, "f10": 109, "f11": 103,
	"f12": 111,
}

const (
	flagShift   = 1 << 17 // kCGEventFlagMaskShift
	flagControl = 1 << 18 // kCGEventFlagMaskControl
	flagOption  = 1 << 19 // kCGEventFlagMaskAlternate
	flagCommand = 1 << 20 // kCGEventFlagMaskCommand
)

func modifierFlags(modifiers []string) (uint64, error) {
	var flags uint64
	for _, m := range modifiers {
		switch strings.ToLower(m) {
		case "shift":
			flags |= flagShift
		case "control", "ctrl":
			flags |= flagControl
		case "option", "alt":
			flags |= flagOption
		case "command", "cmd":
			flags |= flagCommand
		default:
			return 0, axerr.InvalidArgument("unknown modifier %q", m)
		}
	}
	return flags, nil
}

// resolveKey returns the virtual keycode and implicit modifier flags for a
// key name under the active layout.
func resolveKey(key string) (uint16, uint64, error) {
	if code, ok := namedKeys[strings.ToLower(key)]; ok {
		return code, 0, nil
	}
	runes := []rune(key)
	if len(runes) != 1 {
		return 0, 0, axerr.InvalidArgument("unknown key name %q", key)
	}
	var keycode C.uint16_t
	var mods C.int
	if C.key_for_char(C.uint32_t(runes[0]), &keycode, &mods) != 0 {
		return 0, 0, axerr.InvalidArgument("key %q is not reachable on the active keyboard layout", key)
	}
	var flags uint64
	if mods&1 != 0 {
		flags |= flagShift
	}
	if mods&2 != 0 {
		flags |= flagOption
	}
	return uint16(keycode), flags, nil
}

func (s *darwinShim) KeyStroke(key string, modifiers []string) error {
	code, implicit, err := resolveKey(key)
	if err != nil {
		return err
	}
	explicit, err := modifierFlags(modifiers)
	if err != nil {
		return err
	}
	flags := implicit | explicit
	if C.key_post(C.uint16_t(code), C.uint64_t(flags), 1) != 0 {
		return axerr.Internal("keyboard event creation failed")
	}
	if C.key_post(C.uint16_t(code), C.uint64_t(flags), 0) != 0 {
		return axerr.Internal("keyboard event creation failed")
	}
	return nil
}

func (s *darwinShim) TypeText(text string) error {
	for _, r := range text {
		key := string(r)
		if r == '\n' {
			key = "return"
		} else if r == '\t' {
			key = "tab"
		}
		if err := s.KeyStroke(key, nil); err != nil {
			return fmt.Errorf("typing %q: %w", r, err)
		}
		// Small settle between strokes; some apps drop back-to-back events.
		time.Sleep(8 * time.Millisecond)
	}
	return nil
}

func (s *darwinShim) Click(x, y float64, right bool, clicks int) error {
	if clicks < 1 {
		clicks = 1
	}
	r := 0
	if right {
		r = 1
	}
	if C.mouse_click(C.double(x), C.double(y), C.int(r), C.int(clicks)) != 0 {
		return axerr.Internal("mouse event creation failed")
	}
	return nil
}

func (s *darwinShim) ReadClipboard() (string, error) {
	cs := C.pasteboard_read()
	if cs == nil {
		return "", nil
	}
	return goStringFree(cs), nil
}

func (s *darwinShim) WriteClipboard(text string) error {
	cs := C.CString(text)
	defer C.free(unsafe.Pointer(cs))
	if C.pasteboard_write(cs) != 0 {
		return axerr.Internal("pasteboard write refused")
	}
	return nil
}

func (s *darwinShim) ShowHighlight(b element.Bounds, d time.Duration) error {
	C.show_highlight(C.double(b.X), C.double(b.Y), C.double(b.W), C.double(b.H), C.double(d.Seconds()))
	return nil
}
