package browser

import (
	"encoding/json"
	"fmt"

	"go.olrik.dev/invigilator/internal/integrity"
)

const bannerID = "invigilator-banner"

var bannerColors = map[integrity.Severity]string{
	integrity.SeverityError:   "#d32f2f",
	integrity.SeverityWarning: "#f57c00",
	integrity.SeverityInfo:    "#323232",
}

// jsString quotes s as a JavaScript string literal. JSON escaping also
// covers '<', '>' and '&'.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// observerScript runs in every document before the page's own scripts. It
// reports window blur and throttled user input through the bindings and
// swallows Ctrl/Meta shortcuts. Blur counts only when the top document has
// lost focus; moving focus into or out of an iframe is not a focus loss.
func observerScript() string {
	return fmt.Sprintf(`(() => {
  if (window.__invigilatorObserver) return;
  window.__invigilatorObserver = true;

  window.addEventListener('blur', () => {
    if (window !== window.top) return;
    setTimeout(() => {
      if (!document.hasFocus()) window[%[1]s]('blur');
    }, 0);
  });

  let last = 0;
  const input = () => {
    const now = Date.now();
    if (now - last < 250) return;
    last = now;
    window[%[2]s]('input');
  };
  for (const type of ['keydown', 'mousedown', 'mousemove', 'wheel', 'touchstart']) {
    window.addEventListener(type, input, { capture: true, passive: true });
  }

  window.addEventListener('keydown', (e) => {
    if (e.ctrlKey || e.metaKey) {
      e.preventDefault();
      e.stopImmediatePropagation();
    }
  }, true);
})();`, jsString(blurBinding), jsString(inputBinding))
}

// bannerScript replaces any banner with a new one in the top right corner
func bannerScript(message string, severity integrity.Severity) string {
	color, ok := bannerColors[severity]
	if !ok {
		color = bannerColors[integrity.SeverityInfo]
	}

	return fmt.Sprintf(`(() => {
  const id = %[1]s;
  const old = document.getElementById(id);
  if (old) old.remove();

  const el = document.createElement('div');
  el.id = id;
  el.setAttribute('role', 'alert');
  el.dataset.severity = %[2]s;
  el.style.cssText = 'position:fixed;top:16px;right:16px;z-index:2147483647;max-width:420px;' +
    'padding:12px 40px 12px 16px;border-radius:6px;color:#fff;font:14px/1.4 sans-serif;' +
    'box-shadow:0 2px 8px rgba(0,0,0,.3);background:' + %[3]s;

  const text = document.createElement('span');
  text.textContent = %[4]s;
  el.appendChild(text);

  const close = document.createElement('button');
  close.textContent = '×';
  close.setAttribute('aria-label', 'Close');
  close.style.cssText = 'position:absolute;top:6px;right:8px;border:0;background:none;' +
    'color:inherit;font-size:18px;cursor:pointer';
  close.addEventListener('click', () => el.remove());
  el.appendChild(close);

  (document.body || document.documentElement).appendChild(el);
})();`, jsString(bannerID), jsString(string(severity)), jsString(color), jsString(message))
}

// lockScript makes the page ignore every kind of user input. It is safe to
// run more than once in the same document.
func lockScript() string {
	return `(() => {
  if (window.__invigilatorLocked) return;
  window.__invigilatorLocked = true;

  const disable = () => {
    const style = document.createElement('style');
    style.textContent = '* { pointer-events: none !important; user-select: none !important; }';
    (document.head || document.documentElement).appendChild(style);

    if (document.activeElement && document.activeElement.blur) {
      document.activeElement.blur();
    }
  };
  // Installed for new documents too, which have no element tree yet
  if (document.documentElement) {
    disable();
  } else {
    document.addEventListener('DOMContentLoaded', disable, { once: true });
  }

  const block = (e) => {
    e.preventDefault();
    e.stopImmediatePropagation();
  };
  for (const type of ['keydown', 'keyup', 'keypress', 'mousedown', 'mouseup', 'click',
    'dblclick', 'contextmenu', 'wheel', 'touchstart', 'touchmove', 'touchend']) {
    window.addEventListener(type, block, { capture: true, passive: false });
  }
})();`
}

// channelScript delivers payload to the page as a CustomEvent and keeps the
// last value per channel in window.__invigilator for late listeners
func channelScript(channel string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload for %s: %w", channel, err)
	}
	return fmt.Sprintf(`(() => {
  const detail = %[2]s;
  window.__invigilator = window.__invigilator || {};
  window.__invigilator[%[1]s] = detail;
  window.dispatchEvent(new CustomEvent(%[1]s, { detail }));
})();`, jsString(channel), string(data)), nil
}
