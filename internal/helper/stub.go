package helper

// StubProviderJS returns a self-contained stand-in for the reCAPTCHA runtime.
// It publishes grecaptcha (and grecaptcha.enterprise) with the same call
// shapes as the real script, plus __recaptchaStub hooks that play the part
// of a user solving, expiring, or breaking a widget.
func StubProviderJS() string {
	return `// Stub reCAPTCHA runtime
(function(g) {
    var widgets = [];
    var waiting = [];
    var executions = 0;
    var rejectNext = null;
    var loaded = false;

    function widget(id) {
        if (id === undefined || id === null) {
            id = 0;
        }
        var w = widgets[id];
        if (!w) {
            throw new Error("Invalid reCAPTCHA client id: " + id);
        }
        return w;
    }

    var api = {
        ready: function(cb) {
            if (loaded) {
                cb();
                return;
            }
            waiting.push(cb);
        },
        render: function(container, params) {
            if (!container) {
                throw new Error("reCAPTCHA placeholder element must be an element or id");
            }
            if (!params || !params.sitekey) {
                throw new Error("Missing required parameters: sitekey");
            }
            for (var i = 0; i < widgets.length; i++) {
                if (widgets[i].container === container) {
                    throw new Error("reCAPTCHA has already been rendered in this element");
                }
            }
            widgets.push({container: container, params: params, response: ""});
            return widgets.length - 1;
        },
        execute: function(target, options) {
            if (rejectNext !== null) {
                var code = rejectNext;
                rejectNext = null;
                return Promise.reject(code);
            }
            if (typeof target === "string") {
                if (!options || !options.action) {
                    return Promise.reject(new Error("Missing required parameters: action"));
                }
                executions++;
                return Promise.resolve("stub." + target + "." + options.action + "." + executions);
            }
            return Promise.resolve(widget(target).response);
        },
        reset: function(id) {
            widget(id).response = "";
        },
        getResponse: function(id) {
            return widget(id).response;
        }
    };
    api.enterprise = api;
    g.grecaptcha = api;

    g.__recaptchaStub = {
        solve: function(id, token) {
            var w = widget(id);
            w.response = token;
            if (typeof w.params.callback === "function") {
                w.params.callback(token);
            }
        },
        expire: function(id) {
            var w = widget(id);
            w.response = "";
            if (typeof w.params["expired-callback"] === "function") {
                w.params["expired-callback"]();
            }
        },
        fail: function(id, code) {
            var w = widget(id);
            if (typeof w.params["error-callback"] === "function") {
                w.params["error-callback"](code);
            }
        },
        rejectNextExecute: function(code) {
            rejectNext = code;
        },
        executions: function() {
            return executions;
        },
        widgets: function() {
            return widgets.length;
        }
    };

    loaded = true;
    while (waiting.length) {
        waiting.shift()();
    }
})(this);`
}
