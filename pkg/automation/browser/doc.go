// Package browser implements automation handles on top of Playwright.
//
// Pilot does not launch browsers. It attaches to a Chrome that was started
// with remote debugging enabled:
//
//	google-chrome --remote-debugging-port=9222
//
// and binds to one of its tabs. Natural-language instructions and assertions
// are delegated to an Engine; the default LLMEngine sends a compact snapshot
// of the page to an LLM and evaluates the JavaScript it answers with.
//
// Structured scripts run step by step:
//
//	tasks:
//	  - name: checkout
//	    flow:
//	      - aiAction: add the first product to the cart
//	      - sleep: 500
//	      - aiAssert: the cart badge shows 1
//	      - javascript: document.querySelector(".cart-total").textContent
//
// Connection loss is reported by wrapping automation.ErrDisconnected.
package browser
