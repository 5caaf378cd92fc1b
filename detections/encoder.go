package detections

import (
	"image"
	"runtime"
	"sync"

	"github.com/Tutortoise/object-detection-service/models"

	"github.com/disintegration/imaging"
)

// EncodeImage resizes img to the network input size with a Catmull-Rom
// filter and writes R/255, G/255, B/255 into a (1, 3, 640, 640) tensor.
// Alpha is dropped before resampling, so stored colour is used even for
// transparent pixels. An empty image yields an all-zero tensor.
func EncodeImage(img image.Image) *models.InputTensor {
	buffer := make([]float32, models.InputTensorSize())
	bounds := img.Bounds()

	resized := imaging.Resize(opaque(img), models.InputWidth, models.InputHeight, imaging.CatmullRom)
	if resized.Bounds().Dx() == models.InputWidth && resized.Bounds().Dy() == models.InputHeight {
		fillBuffer(buffer, resized, runtime.GOMAXPROCS(0))
	}

	input, err := models.NewInputTensor(buffer, bounds.Dx(), bounds.Dy())
	if err != nil {
		// buffer is always allocated with the exact tensor size
		panic(err)
	}
	return input
}

// opaque copies img and sets every alpha to 255. imaging.Resize weights
// colour by alpha, which would otherwise leak alpha into RGB.
func opaque(img image.Image) *image.NRGBA {
	flat := imaging.Clone(img)
	for i := 3; i < len(flat.Pix); i += 4 {
		flat.Pix[i] = 0xff
	}
	return flat
}

// fillBuffer splits the rows between workers; each worker writes a
// disjoint row range in all three channel planes.
func fillBuffer(buffer []float32, img *image.NRGBA, numWorkers int) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if numWorkers > models.InputHeight {
		numWorkers = models.InputHeight
	}
	channelSize := models.InputWidth * models.InputHeight
	rowsPerWorker := models.InputHeight / numWorkers

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == numWorkers-1 {
			endRow = models.InputHeight
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				src := img.Pix[y*img.Stride : y*img.Stride+models.InputWidth*4]
				offset := y * models.InputWidth
				for x := 0; x < models.InputWidth; x++ {
					i := offset + x
					p := src[x*4 : x*4+3 : x*4+3]
					buffer[i] = float32(p[0]) / 255.0
					buffer[channelSize+i] = float32(p[1]) / 255.0
					buffer[channelSize*2+i] = float32(p[2]) / 255.0
				}
			}
		}(startRow, endRow)
	}

	wg.Wait()
}
