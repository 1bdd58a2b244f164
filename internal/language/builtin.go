package language

// Builtin returns the default language table.
func Builtin() []Profile {
	return []Profile{
		{
			ID: "python", Name: "Python", Version: "3.12",
			Aliases:    []string{"py", "python3"},
			Image:      "python:3.12-slim",
			SourceFile: "solution.py", Extension: ".py",
			RunCmd: "python3 -u {filename}",
		},
		{
			ID: "javascript", Name: "JavaScript", Version: "Node 20",
			Aliases:    []string{"js", "node", "nodejs"},
			Image:      "node:20-slim",
			SourceFile: "solution.js", Extension: ".js",
			RunCmd: "node {filename}",
		},
		{
			ID: "typescript", Name: "TypeScript", Version: "5",
			Aliases:    []string{"ts"},
			Image:      "vibe-judge-typescript:latest",
			SourceFile: "solution.ts", Extension: ".ts",
			RunCmd: "ts-node --transpile-only {filename}",
		},
		{
			ID: "java", Name: "Java", Version: "21",
			Image:      "eclipse-temurin:21-jdk",
			SourceFile: "Main.java", Extension: ".java",
			CompileCmd: "javac -encoding UTF-8 {filename}",
			RunCmd:     "java -Xss64m -cp . {classname}",
			// JVM overhead on top of the submission's heap.
			MemoryExtra: 128,
		},
		{
			ID: "cpp", Name: "C++", Version: "GCC 13 / C++17",
			Aliases:    []string{"c++", "cc"},
			Image:      "gcc:13",
			SourceFile: "solution.cpp", Extension: ".cpp",
			CompileCmd: "g++ -O2 -std=c++17 -o {output} {filename}",
			RunCmd:     "./{output}",
		},
		{
			ID: "c", Name: "C", Version: "GCC 13 / C11",
			Image:      "gcc:13",
			SourceFile: "solution.c", Extension: ".c",
			CompileCmd: "gcc -O2 -std=c11 -o {output} {filename} -lm",
			RunCmd:     "./{output}",
		},
		{
			ID: "go", Name: "Go", Version: "1.22",
			Aliases:    []string{"golang"},
			Image:      "golang:1.22",
			SourceFile: "main.go", Extension: ".go",
			CompileCmd: "go build -o {output} {filename}",
			RunCmd:     "./{output}",
		},
		{
			ID: "rust", Name: "Rust", Version: "1.79",
			Aliases:    []string{"rs"},
			Image:      "rust:1.79-slim",
			SourceFile: "main.rs", Extension: ".rs",
			CompileCmd: "rustc -O -o {output} {filename}",
			RunCmd:     "./{output}",
		},
		{
			ID: "bash", Name: "Bash", Version: "5",
			Aliases:    []string{"sh", "shell"},
			Image:      "bash:5",
			SourceFile: "solution.sh", Extension: ".sh",
			RunCmd: "bash {filename}",
		},
	}
}
