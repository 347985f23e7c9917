// Package session holds the device registry and the naming rules of a
// capture session.
//
// A Session is produced by New from operator Params and is immutable after
// that. It knows the ordered device list, the file-name prefix
// (S<seq>_<Title>_<inc>), and the temp and final path of every device's
// recording. Nothing here touches the filesystem except Discover, which
// lists device nodes, and the base path Lock held while recorders run.
package session
