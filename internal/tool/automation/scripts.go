package automation

import (
	"encoding/json"
	"fmt"
)

// jsString quotes s as a JavaScript string literal. JSON string syntax is a
// subset of JavaScript's, so encoding/json escaping is sufficient.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Every DOM script is an expression returning {ok:true,...} or
// {ok:false,error:"..."}.

func clickScript(selector string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%[1]s);
  if (!el) return {ok: false, error: "element not found: " + %[1]s};
  el.scrollIntoView({block: "center", inline: "center"});
  el.click();
  return {ok: true, tag: el.tagName.toLowerCase(), text: (el.innerText || el.value || "").trim().slice(0, 80)};
})()`, jsString(selector))
}

func typeScript(selector, text string, submit bool) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%[1]s);
  if (!el) return {ok: false, error: "element not found: " + %[1]s};
  el.focus();
  if (el.isContentEditable) {
    el.textContent = %[2]s;
  } else {
    const proto = el instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
    const setter = Object.getOwnPropertyDescriptor(proto, "value");
    if (setter && setter.set) { setter.set.call(el, %[2]s); } else { el.value = %[2]s; }
  }
  el.dispatchEvent(new Event("input", {bubbles: true}));
  el.dispatchEvent(new Event("change", {bubbles: true}));
  let submitted = false;
  if (%[3]t) {
    const form = el.form || el.closest("form");
    if (form && form.requestSubmit) { form.requestSubmit(); submitted = true; }
    else {
      for (const type of ["keydown", "keypress", "keyup"]) {
        el.dispatchEvent(new KeyboardEvent(type, {key: "Enter", code: "Enter", keyCode: 13, bubbles: true}));
      }
      submitted = true;
    }
  }
  return {ok: true, submitted};
})()`, jsString(selector), jsString(text), submit)
}

func scrollScript(direction string, amount int) string {
	return fmt.Sprintf(`(() => {
  const dir = %s, amount = %d || Math.round(window.innerHeight * 0.8);
  switch (dir) {
    case "top": window.scrollTo(0, 0); break;
    case "bottom": window.scrollTo(0, document.documentElement.scrollHeight); break;
    case "up": window.scrollBy(0, -amount); break;
    default: window.scrollBy(0, amount);
  }
  const max = document.documentElement.scrollHeight - window.innerHeight;
  return {ok: true, scrollY: Math.round(window.scrollY), atBottom: window.scrollY >= max - 1};
})()`, jsString(direction), amount)
}

func linksScript(limit int) string {
	return fmt.Sprintf(`(() => {
  const out = [];
  const seen = new Set();
  for (const a of document.querySelectorAll("a[href]")) {
    if (out.length >= %d) break;
    const href = a.href;
    if (!href || href.startsWith("javascript:") || seen.has(href)) continue;
    seen.add(href);
    out.push({text: (a.innerText || a.title || "").trim().slice(0, 120), href});
  }
  return {ok: true, links: out};
})()`, limit)
}

func waitScript(selector string, timeoutMs int) string {
	return fmt.Sprintf(`new Promise((resolve) => {
  const sel = %s, deadline = Date.now() + %d;
  const tick = () => {
    if (document.querySelector(sel)) return resolve({ok: true});
    if (Date.now() >= deadline) return resolve({ok: false, error: "timed out waiting for " + sel});
    setTimeout(tick, 100);
  };
  tick();
})`, jsString(selector), timeoutMs)
}
