// Command tcpio runs one end of a point-to-point envelope connection.
package main

func main() {
	Execute()
}
