package jsframe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// pageScript boots an application root after bootDelay milliseconds and provides a test runtime
// that runs each case on a timer and records thrown errors.
const pageScript = `
var bootDelay = 20;
var $A = {
	root: null,
	getRoot: function() { return this.root; }
};
setTimeout(function() { $A.root = { name: "app" }; }, bootDelay);

var aura = {
	test: (function() {
		var complete = false;
		var errors = [];
		return {
			isComplete: function() { return complete; },
			getErrors: function() { return errors.length ? JSON.stringify(errors) : ""; },
			run: function(name, code, ticks, quickFix) {
				console.log("running", name, ticks, quickFix);
				var suite = eval("(" + code + ")");
				setTimeout(function() {
					try {
						suite[name].test($A.getRoot());
					} catch (e) {
						errors.push({ message: e.message, lastStage: "test " + name });
					}
					complete = true;
				}, ticks);
			}
		};
	})()
};
`

const suiteCode = `{
	passes: { test: function(root) { if (root.name !== "app") { throw new Error("wrong root"); } } },
	fails: { test: function(root) { throw new Error("expected true"); } }
}`

func writeScript(t *testing.T, source string) string {
	path := filepath.Join(t.TempDir(), "page.js")
	require.NoError(t, os.WriteFile(path, []byte(source), 0o600))
	return path
}
