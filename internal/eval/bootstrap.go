package eval

// bootstrapScript is the Python entrypoint run inside every evaluator
// subprocess. It speaks the newline-delimited JSON protocol documented
// on wireMessage: read one "exec" message, run the code with the given
// bindings in scope, relay any call_tool() invocation back over
// stdin/stdout as a "tool_call"/"tool_result" round trip, and finish
// with one "done" message carrying the updated bindings and captured
// stdout.
const bootstrapScript = `
import sys
import json
import io
import contextlib
import traceback

_call_counter = 0

def _send(msg):
    sys.__stdout__.write(json.dumps(msg) + "\n")
    sys.__stdout__.flush()

def call_tool(name, **kwargs):
    global _call_counter
    _call_counter += 1
    call_id = "call-%d" % _call_counter
    _send({"type": "tool_call", "call_id": call_id, "name": name, "params": kwargs})
    while True:
        line = sys.stdin.readline()
        if not line:
            raise RuntimeError("evaluator closed its side of the tool channel")
        line = line.strip()
        if not line:
            continue
        resp = json.loads(line)
        if resp.get("type") != "tool_result" or resp.get("call_id") != call_id:
            continue
        if resp.get("error"):
            raise RuntimeError(resp["error"])
        result = resp.get("result") or {}
        content = result.get("content") if isinstance(result, dict) else result
        if not content:
            return None
        try:
            return json.loads(content)
        except ValueError:
            return content

def read_file(path, offset=0, max_bytes=0):
    return call_tool("read_file", path=path, offset=offset, max_bytes=max_bytes)

def write_file(path, content, append=False):
    return call_tool("write_file", path=path, content=content, append=append)

def edit_file(path, old_string, new_string):
    return call_tool("edit_file", path=path, old_string=old_string, new_string=new_string)

def bash(command, cwd=None, timeout_seconds=0):
    return call_tool("bash", command=command, cwd=cwd, timeout_seconds=timeout_seconds)

def grep(pattern, path=None, glob=None, case_insensitive=False):
    return call_tool("grep", pattern=pattern, path=path, glob=glob, case_insensitive=case_insensitive)

def glob(pattern, base=None):
    return call_tool("glob", pattern=pattern, base=base)

def ls(path=None):
    return call_tool("ls", path=path)

def query(prompt, schema=None):
    return call_tool("direct_query", prompt=prompt, schema=schema)

def parallel_query(prompts):
    return call_tool("parallel_query", prompts=prompts)

def sub_call(task, model_size=None, context=None, schema=None):
    return call_tool("sub_call", task=task, model_size=model_size, context=context, schema=schema)

def main():
    header = sys.stdin.readline()
    request = json.loads(header) if header else {}
    bindings = request.get("bindings") or {}
    code = request.get("code") or ""

    namespace = dict(bindings)
    namespace.update({
        "call_tool": call_tool,
        "read_file": read_file,
        "write_file": write_file,
        "edit_file": edit_file,
        "bash": bash,
        "grep": grep,
        "glob": glob,
        "ls": ls,
        "query": query,
        "parallel_query": parallel_query,
        "sub_call": sub_call,
    })

    buf = io.StringIO()
    error = None
    try:
        with contextlib.redirect_stdout(buf):
            exec(code, namespace)
    except Exception:
        error = traceback.format_exc()

    reserved = {
        "call_tool", "read_file", "write_file", "edit_file", "bash",
        "grep", "glob", "ls", "query", "parallel_query", "sub_call",
        "__builtins__",
    }
    out_bindings = {}
    for key, value in namespace.items():
        if key in reserved or key.startswith("__"):
            continue
        if callable(value):
            continue
        try:
            json.dumps(value)
        except TypeError:
            continue
        out_bindings[key] = value

    _send({"type": "done", "bindings": out_bindings, "stdout": buf.getvalue(), "error": error})

main()
`
