package main

// AppVersion is the current application version.
const AppVersion = "1.0.0"

// AppTitle is the window title and notification app name.
const AppTitle = "ChainShell"
