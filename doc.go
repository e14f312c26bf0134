/*
Package eris implements heavy-duty persistence for a dynamically typed,
stack-based scripting runtime: it serializes an arbitrary live value --
including tables with cycles, closures with shared upvalues, function
prototypes and suspended coroutines with their call stacks -- into a
self-contained byte string, and later reconstructs a semantically
equivalent value, preserving object identity within the persisted graph.

Non-portable values such as native functions are routed through a caller
supplied permanents table that maps them to stable keys on the way out and
back to live objects on the way in.
*/
package eris
